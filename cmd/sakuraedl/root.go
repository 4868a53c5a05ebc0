package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/config"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/transport"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/xlog"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var (
	deviceFlag    string
	baudFlag      int
	configDirFlag string
	verboseFlag   bool
)

// cfg is the effective configuration for the current invocation: file
// settings from internal/config, overridden by whichever of the flags
// above were explicitly set.
var cfg *config.Config

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sakuraedl",
		Short:         "Qualcomm EDL flashing tool",
		Long:          "sakuraedl drives a Qualcomm EDL device over Sahara and Firehose: programmer upload, partition read/write/erase, slot switching, and GPT/sparse/super inspection.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configDirFlag != "" {
				config.SetHomeDir(configDirFlag)
			}
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if deviceFlag != "" {
				loaded.Transport.Device = deviceFlag
			}
			if baudFlag != 0 {
				loaded.Transport.BaudRate = baudFlag
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded

			level := logrus.InfoLevel
			if verboseFlag {
				level = logrus.DebugLevel
			}
			xlog.SetOutput(level)
			return nil
		},
	}

	pflags := root.PersistentFlags()
	pflags.StringVar(&deviceFlag, "device", "", "Serial device path, e.g. /dev/ttyUSB0 (overrides config.toml)")
	pflags.IntVar(&baudFlag, "baud", 0, "Serial baud rate (overrides config.toml)")
	pflags.StringVar(&configDirFlag, "config-dir", "", "Override config directory (default: ~/.sakuraedl or $SAKURAEDL_HOME)")
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newSaharaCmd())
	root.AddCommand(newFirehoseCmd())
	root.AddCommand(newGPTCmd())
	root.AddCommand(newSparseCmd())
	root.AddCommand(newSuperCmd())

	return root
}

// Execute builds and runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// openTransport opens the serial device named by cfg.Transport, applying
// the baud rate or a sensible EDL default.
func openTransport() (*transport.SerialTransport, error) {
	if cfg.Transport.Device == "" {
		return nil, fmt.Errorf("no device configured: pass --device or set transport.device in %s", config.Path())
	}
	baud := cfg.Transport.BaudRate
	if baud == 0 {
		baud = 115200
	}
	return transport.Open(transport.Config{
		Name:            cfg.Transport.Device,
		Baud:            baud,
		ReadPollTimeout: 200 * time.Millisecond,
	})
}
