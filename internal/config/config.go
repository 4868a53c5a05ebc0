// Package config loads the engines' FirehoseOptions and transport settings
// from an optional TOML file, overridable by CLI flags, grounded on
// dsmmcken-dh-cli's config.toml handling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/firehose"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// Config is the on-disk shape of config.toml.
type Config struct {
	Transport Transport `toml:"transport,omitempty" json:"transport"`
	Firehose  Firehose  `toml:"firehose,omitempty" json:"firehose"`
}

// Transport holds serial-port settings.
type Transport struct {
	Device   string `toml:"device,omitempty" json:"device"`
	BaudRate int    `toml:"baud_rate,omitempty" json:"baud_rate"`
}

// Firehose mirrors spec.md §6's FirehoseOptions bag.
type Firehose struct {
	ChunkSizeBytes        int64  `toml:"chunk_size_bytes,omitempty" json:"chunk_size_bytes"`
	UseVIP                bool   `toml:"use_vip,omitempty" json:"use_vip"`
	EnableProvision       bool   `toml:"enable_provision,omitempty" json:"enable_provision"`
	StorageType           string `toml:"storage_type,omitempty" json:"storage_type"`
	RequestedPayloadBytes int    `toml:"requested_payload_bytes,omitempty" json:"requested_payload_bytes"`
}

// homeDirOverride is set by --config-dir or the SAKURAEDL_HOME env var.
var homeDirOverride string

// SetHomeDir allows the CLI to override the config directory.
func SetHomeDir(dir string) {
	homeDirOverride = dir
}

// HomeDir returns the config directory. Precedence: SetHomeDir >
// SAKURAEDL_HOME env > ~/.sakuraedl.
func HomeDir() string {
	if homeDirOverride != "" {
		return homeDirOverride
	}
	if v := os.Getenv("SAKURAEDL_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".sakuraedl")
	}
	return filepath.Join(home, ".sakuraedl")
}

// Path returns the full path to config.toml.
func Path() string {
	return filepath.Join(HomeDir(), "config.toml")
}

// Load reads config.toml, returning a zero-value (defaulted) Config if the
// file does not exist.
func Load() (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, xerr.Wrap(xerr.KindTransportIO, "config.Load", err, "read config.toml")
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "config.Load", err, "parse config.toml")
	}
	return cfg, nil
}

// Save writes cfg back to config.toml, creating the home directory if
// needed.
func Save(cfg *Config) error {
	if err := os.MkdirAll(HomeDir(), 0o755); err != nil {
		return xerr.Wrap(xerr.KindTransportIO, "config.Save", err, "create config dir")
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return xerr.Wrap(xerr.KindMalformed, "config.Save", err, "marshal config")
	}
	if err := os.WriteFile(Path(), data, 0o644); err != nil {
		return xerr.Wrap(xerr.KindTransportIO, "config.Save", err, "write config.toml")
	}
	return nil
}

// ToFirehoseOptions converts the on-disk Firehose settings to
// firehose.Options, filling unset fields from firehose.DefaultOptions(),
// except that an empty storage_type selects UFS.
func (f Firehose) ToFirehoseOptions() (firehose.Options, error) {
	opts := firehose.DefaultOptions()
	if f.ChunkSizeBytes != 0 {
		opts.ChunkSizeBytes = f.ChunkSizeBytes
	}
	opts.UseVIP = f.UseVIP
	opts.EnableProvision = f.EnableProvision
	if f.RequestedPayloadBytes != 0 {
		opts.RequestedPayloadBytes = f.RequestedPayloadBytes
	}
	switch strings.ToUpper(f.StorageType) {
	case "", "UFS":
		opts.StorageType = firehose.StorageUFS
	case "EMMC":
		opts.StorageType = firehose.StorageEMMC
	default:
		return firehose.Options{}, xerr.Errorf(xerr.KindMalformed, "config.ToFirehoseOptions", "unrecognized storage_type %q", f.StorageType)
	}
	return opts, nil
}

// Validate reports a descriptive error for settings that ToFirehoseOptions
// or the CLI cannot use, per the pattern "operation: one-line cause".
func (c *Config) Validate() error {
	if c.Transport.BaudRate < 0 {
		return fmt.Errorf("config: transport.baud_rate must be non-negative, got %d", c.Transport.BaudRate)
	}
	if _, err := c.Firehose.ToFirehoseOptions(); err != nil {
		return err
	}
	return nil
}
