package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/sparse"
)

func newSparseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sparse",
		Short: "Android sparse image inspection and re-splitting",
	}
	cmd.AddCommand(newSparseInfoCmd())
	cmd.AddCommand(newSparseResplitCmd())
	return cmd
}

func newSparseInfoCmd() *cobra.Command {
	var imagePath string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print a sparse image's header summary and data ranges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(imagePath)
			if err != nil {
				return fmt.Errorf("opening sparse image: %w", err)
			}
			defer f.Close()

			img, err := sparse.Parse(f)
			if err != nil {
				return fmt.Errorf("parsing sparse image: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "block_size:    %d\n", img.BlockSize)
			fmt.Fprintf(cmd.OutOrStdout(), "total_blocks:  %d\n", img.TotalBlocks)
			fmt.Fprintf(cmd.OutOrStdout(), "total_chunks:  %d\n", img.TotalChunks)
			fmt.Fprintf(cmd.OutOrStdout(), "expanded_size: %d\n", img.ExpandedSize())

			ranges := img.DataRanges()
			fmt.Fprintf(cmd.OutOrStdout(), "data_ranges:   %d\n", len(ranges))
			for _, r := range ranges {
				fmt.Fprintf(cmd.OutOrStdout(), "  offset=%d length=%d\n", r.Offset, r.Length)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "Path to a sparse (.img) file")
	cmd.MarkFlagRequired("image")
	return cmd
}

func newSparseResplitCmd() *cobra.Command {
	var (
		imagePath   string
		outDir      string
		maxWireSize int64
	)
	cmd := &cobra.Command{
		Use:   "resplit",
		Short: "Re-split a sparse image into wire-size-bounded groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(imagePath)
			if err != nil {
				return fmt.Errorf("opening sparse image: %w", err)
			}
			defer f.Close()

			img, err := sparse.Parse(f)
			if err != nil {
				return fmt.Errorf("parsing sparse image: %w", err)
			}

			groups, err := sparse.Resplit(img, maxWireSize)
			if err != nil {
				return fmt.Errorf("re-splitting: %w", err)
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			base := filepath.Base(imagePath)
			for i, g := range groups {
				outPath := filepath.Join(outDir, fmt.Sprintf("%s.part%d", base, i))
				out, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("creating %s: %w", outPath, err)
				}
				if err := sparse.WriteGroup(out, g, f); err != nil {
					out.Close()
					return fmt.Errorf("writing %s: %w", outPath, err)
				}
				out.Close()
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d chunks)\n", outPath, len(g.Chunks))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "Path to a sparse (.img) file")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory to write the re-split groups into")
	cmd.Flags().Int64Var(&maxWireSize, "max-wire-size", 1<<20, "Maximum serialized size of each output group, in bytes")
	cmd.MarkFlagRequired("image")
	return cmd
}
