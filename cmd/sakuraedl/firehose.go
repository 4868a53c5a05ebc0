package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/firehose"
)

func newFirehoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firehose",
		Short: "Firehose partition read/write/erase",
	}
	cmd.AddCommand(newFirehoseReadCmd())
	cmd.AddCommand(newFirehoseWriteCmd())
	cmd.AddCommand(newFirehoseEraseCmd())
	return cmd
}

// newFirehoseEngine opens the transport, builds an Engine from cfg, and
// runs Configure, returning the engine ready for read/write/erase.
func newFirehoseEngine(cmd *cobra.Command) (*firehose.Engine, func(), error) {
	opts, err := cfg.Firehose.ToFirehoseOptions()
	if err != nil {
		return nil, nil, err
	}
	t, err := openTransport()
	if err != nil {
		return nil, nil, err
	}

	e := firehose.New(t, opts)
	if _, err := e.Configure(cmd.Context(), string(opts.StorageType)); err != nil {
		t.Close()
		return nil, nil, fmt.Errorf("firehose configure: %w", err)
	}
	return e, func() { t.Close() }, nil
}

var (
	fhPhysicalPartition int
	fhStartSector       string
	fhNumSectors        uint64
	fhFilename          string
	fhLabel             string
	fhVIP               bool
	fhLUN               int
)

func addFirehoseTargetFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&fhPhysicalPartition, "lun", 0, "Physical partition (LUN) number")
	cmd.Flags().StringVar(&fhStartSector, "start-sector", "0", "Starting sector, or NUM_DISK_SECTORS-N. for negative addressing")
	cmd.Flags().Uint64Var(&fhNumSectors, "num-sectors", 0, "Number of sectors to transfer")
}

func newFirehoseReadCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read sectors from a physical partition to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := newFirehoseEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()

			req := firehose.ReadRequest{
				PhysicalPartitionNumber: fhPhysicalPartition,
				StartSector:             fhStartSector,
				NumPartitionSectors:     fhNumSectors,
			}

			var n int64
			if fhVIP {
				n, err = e.ReadVIP(cmd.Context(), req, f)
			} else {
				n, err = e.ReadPartition(cmd.Context(), req, f)
			}
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "read %d bytes to %s\n", n, outPath)
			return nil
		},
	}
	addFirehoseTargetFlags(cmd)
	cmd.Flags().StringVar(&outPath, "out", "", "Output file path")
	cmd.Flags().BoolVar(&fhVIP, "vip", false, "Read via ReadVIP: a single read that fails if no data comes back (no masquerade strategy list)")
	cmd.Flags().IntVar(&fhLUN, "vip-lun", 0, "Not used by read (read directives carry no masquerade filename)")
	cmd.MarkFlagRequired("out")
	return cmd
}

func newFirehoseWriteCmd() *cobra.Command {
	var inPath string
	var isGPTSector bool
	var partitionName string
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a file's contents to a physical partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := newFirehoseEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := os.Open(inPath)
			if err != nil {
				return fmt.Errorf("opening input file: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat input file: %w", err)
			}

			req := firehose.WriteRequest{
				PhysicalPartitionNumber: fhPhysicalPartition,
				StartSector:             fhStartSector,
				Filename:                fhFilename,
				Label:                   fhLabel,
			}

			if fhVIP {
				err = e.WriteVIP(cmd.Context(), req, isGPTSector, fhLUN, partitionName, f, info.Size())
			} else {
				err = e.WritePartition(cmd.Context(), req, f, info.Size())
			}
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes from %s\n", info.Size(), inPath)
			return nil
		},
	}
	addFirehoseTargetFlags(cmd)
	cmd.Flags().StringVar(&inPath, "in", "", "Input image file path")
	cmd.Flags().StringVar(&fhFilename, "filename", "", "filename attribute reported in the program directive")
	cmd.Flags().StringVar(&fhLabel, "label", "", "label attribute reported in the program directive")
	cmd.Flags().BoolVar(&fhVIP, "vip", false, "Use the masquerade strategy list for locked devices")
	cmd.Flags().IntVar(&fhLUN, "vip-lun", 0, "LUN used to derive VIP masquerade filenames")
	cmd.Flags().BoolVar(&isGPTSector, "gpt-sector", false, "Target is a GPT main/backup sector (affects VIP filename strategy)")
	cmd.Flags().StringVar(&partitionName, "partition-name", "", "Logical partition name, used by the VIP masquerade strategy")
	cmd.MarkFlagRequired("in")
	return cmd
}

func newFirehoseEraseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase sectors on a physical partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := newFirehoseEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			req := firehose.EraseRequest{
				PhysicalPartitionNumber: fhPhysicalPartition,
				StartSector:             fhStartSector,
				NumPartitionSectors:     fhNumSectors,
				Filename:                fhFilename,
				Label:                   fhLabel,
			}

			var err2 error
			if fhVIP {
				err2 = e.EraseVIP(cmd.Context(), req, false, fhLUN, "")
			} else {
				err2 = e.Erase(cmd.Context(), req)
			}
			if err2 != nil {
				return fmt.Errorf("erase: %w", err2)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "erase complete")
			return nil
		},
	}
	addFirehoseTargetFlags(cmd)
	cmd.Flags().BoolVar(&fhVIP, "vip", false, "Use the masquerade strategy list for locked devices")
	cmd.Flags().IntVar(&fhLUN, "vip-lun", 0, "LUN used to derive VIP masquerade filenames")
	return cmd
}
