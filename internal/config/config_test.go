package config

import (
	"path/filepath"
	"testing"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/firehose"
)

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	SetHomeDir(filepath.Join(t.TempDir(), "nonexistent"))
	defer SetHomeDir("")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Firehose.StorageType != "" {
		t.Errorf("Firehose.StorageType = %q, want empty (defaulted later by ToFirehoseOptions)", cfg.Firehose.StorageType)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	SetHomeDir(t.TempDir())
	defer SetHomeDir("")

	want := &Config{
		Transport: Transport{Device: "/dev/ttyUSB0", BaudRate: 115200},
		Firehose:  Firehose{ChunkSizeBytes: 1 << 20, UseVIP: true, StorageType: "UFS"},
	}
	if err := Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Transport != want.Transport || got.Firehose != want.Firehose {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestToFirehoseOptionsDefaultsStorageTypeToUFS(t *testing.T) {
	f := Firehose{StorageType: ""}
	opts, err := f.ToFirehoseOptions()
	if err != nil {
		t.Fatalf("ToFirehoseOptions failed: %v", err)
	}
	if opts.StorageType != firehose.StorageUFS {
		t.Errorf("StorageType = %s, want UFS default", opts.StorageType)
	}
}

func TestToFirehoseOptionsRejectsUnknownStorageType(t *testing.T) {
	f := Firehose{StorageType: "NVME"}
	if _, err := f.ToFirehoseOptions(); err == nil {
		t.Error("expected an error for unrecognized storage_type")
	}
}

func TestToFirehoseOptionsOverridesChunkSize(t *testing.T) {
	f := Firehose{ChunkSizeBytes: 4096}
	opts, err := f.ToFirehoseOptions()
	if err != nil {
		t.Fatalf("ToFirehoseOptions failed: %v", err)
	}
	if opts.ChunkSizeBytes != 4096 {
		t.Errorf("ChunkSizeBytes = %d, want 4096", opts.ChunkSizeBytes)
	}
}
