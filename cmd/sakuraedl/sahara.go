package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/chipdb"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/sahara"
)

var (
	saharaLoaderFlag  string
	saharaRetriesFlag int
)

func newSaharaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sahara",
		Short: "Upload a programmer image and enumerate chip identity",
		Args:  cobra.NoArgs,
		RunE:  runSahara,
	}
	cmd.Flags().StringVar(&saharaLoaderFlag, "loader", "", "Path to the programmer (.mbn/.elf) image to serve")
	cmd.Flags().IntVar(&saharaRetriesFlag, "retries", 3, "Maximum handshake attempts before giving up")
	cmd.MarkFlagRequired("loader")
	return cmd
}

func runSahara(cmd *cobra.Command, args []string) error {
	loader, err := os.ReadFile(saharaLoaderFlag)
	if err != nil {
		return fmt.Errorf("reading loader image: %w", err)
	}

	t, err := openTransport()
	if err != nil {
		return err
	}
	defer t.Close()

	e := sahara.New(t, loader, chipdb.NewStatic())
	e.SetProgress(func(served, total int64) {
		fmt.Fprintf(cmd.ErrOrStderr(), "\rsahara: %d/%d bytes", served, total)
	})

	if err := e.RunWithRetry(cmd.Context(), saharaRetriesFlag); err != nil {
		return fmt.Errorf("sahara handshake failed: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr())

	info := e.ChipInfo
	fmt.Fprintf(cmd.OutOrStdout(), "vendor:    %s\n", info.VendorName)
	fmt.Fprintf(cmd.OutOrStdout(), "hw_id:     0x%08X\n", info.HWID)
	fmt.Fprintf(cmd.OutOrStdout(), "serial:    %s\n", info.SerialHex)
	fmt.Fprintf(cmd.OutOrStdout(), "pk_hash:   %s\n", info.PKHashHex)
	return nil
}
