package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/gpt"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/superplan"
)

func newSuperCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "super",
		Short: "Dynamic-partition (Super) flash planning",
	}
	cmd.AddCommand(newSuperPlanCmd())
	return cmd
}

func newSuperPlanCmd() *cobra.Command {
	var (
		firmwareRoot     string
		nvID             string
		slot             string
		superStartSector uint64
		sectorSize       uint64
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Resolve Super's logical volumes to image files and print the flash plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var activeSlot gpt.AggregateSlot
			switch slot {
			case "a":
				activeSlot = gpt.SlotA
			case "b":
				activeSlot = gpt.SlotB
			default:
				return fmt.Errorf("--slot must be \"a\" or \"b\", got %q", slot)
			}

			tasks, err := superplan.Plan(firmwareRoot, nvID, activeSlot, superStartSector, sectorSize)
			if err != nil {
				return fmt.Errorf("planning super flash: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%-28s %14s %12s %s\n", "PARTITION", "SECTOR", "BYTES", "FILE")
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%-28s %14d %12d %s\n", t.PartitionName, t.AbsoluteSector, t.ByteSize, t.FilePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&firmwareRoot, "firmware-root", "", "Path to the firmware package root (contains IMAGES/, META/)")
	cmd.Flags().StringVar(&nvID, "nv-id", "", "Device-specific variant suffix, if the firmware package carries one")
	cmd.Flags().StringVar(&slot, "slot", "a", "Active aggregate slot (\"a\" or \"b\")")
	cmd.Flags().Uint64Var(&superStartSector, "super-start-sector", 0, "Absolute sector where the Super partition begins on the device")
	cmd.Flags().Uint64Var(&sectorSize, "sector-size", 4096, "Device sector size in bytes")
	cmd.MarkFlagRequired("firmware-root")
	cmd.MarkFlagRequired("super-start-sector")
	return cmd
}
