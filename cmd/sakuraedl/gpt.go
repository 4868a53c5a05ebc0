package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/gpt"
)

func newGPTCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gpt",
		Short: "GPT partition table inspection",
	}
	cmd.AddCommand(newGPTDumpCmd())
	return cmd
}

func newGPTDumpCmd() *cobra.Command {
	var (
		imagePath    string
		lun          int
		sectorSize   int
		emitRawXML   string
		emitPartXML  string
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Parse a GPT image and print or emit its partition table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(imagePath)
			if err != nil {
				return fmt.Errorf("opening GPT image: %w", err)
			}
			defer f.Close()

			res, err := gpt.Parse(f, lun, sectorSize)
			if err != nil {
				return fmt.Errorf("parsing GPT: %w", err)
			}

			if !res.BackupHeaderOK {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: backup GPT header did not validate")
			}

			if emitRawXML != "" {
				out, err := gpt.EmitRawProgram(res.Partitions, lun)
				if err != nil {
					return fmt.Errorf("emitting rawprogram XML: %w", err)
				}
				if err := os.WriteFile(emitRawXML, out, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", emitRawXML, err)
				}
			}
			if emitPartXML != "" {
				out, err := gpt.EmitPartitionXML(res.Partitions)
				if err != nil {
					return fmt.Errorf("emitting partition XML: %w", err)
				}
				if err := os.WriteFile(emitPartXML, out, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", emitPartXML, err)
				}
			}

			agg := gpt.AggregateABSlot(res.Partitions)
			fmt.Fprintf(cmd.OutOrStdout(), "active slot: %s (votes a=%d b=%d)\n", agg.Slot, agg.VotesA, agg.VotesB)
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %10s %10s %6s\n", "NAME", "START_LBA", "END_LBA", "ENTRY")
			for _, p := range res.Partitions {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %10d %10d %6d\n", p.Name, p.StartLBA, p.EndLBA, p.EntryIndex)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "Path to a raw GPT-main image (e.g. gpt_main0.bin)")
	cmd.Flags().IntVar(&lun, "lun", 0, "LUN this image belongs to")
	cmd.Flags().IntVar(&sectorSize, "sector-size", 0, "Sector size in bytes; 0 probes 512 then 4096")
	cmd.Flags().StringVar(&emitRawXML, "emit-rawprogram", "", "Write a rawprogram*.xml covering these partitions to this path")
	cmd.Flags().StringVar(&emitPartXML, "emit-partition-xml", "", "Write a partition.xml covering these partitions to this path")
	cmd.MarkFlagRequired("image")
	return cmd
}
