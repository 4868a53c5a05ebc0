package lp

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMetadataBlob assembles a minimal LP metadata blob at the given
// offset: header prefix, 6 descriptors (partitions, extents, then four
// zeroed ones — only partitions/extents populated), then the tables.
func buildMetadataBlob(t *testing.T, partitions []PartitionEntry, extents []Extent) []byte {
	t.Helper()
	const headerSize = 64

	var tables bytes.Buffer
	partOff := uint32(tables.Len())
	for _, p := range partitions {
		rec := make([]byte, 48)
		copy(rec[0:36], []byte(p.Name))
		binary.LittleEndian.PutUint32(rec[36:40], p.Attributes)
		binary.LittleEndian.PutUint32(rec[40:44], p.FirstExtent)
		binary.LittleEndian.PutUint32(rec[44:48], p.NumExtents)
		tables.Write(rec)
	}
	extOff := uint32(tables.Len())
	for _, e := range extents {
		rec := make([]byte, 24)
		binary.LittleEndian.PutUint64(rec[0:8], e.NumSectors512)
		binary.LittleEndian.PutUint32(rec[8:12], e.Kind)
		binary.LittleEndian.PutUint64(rec[12:20], e.TargetData512)
		binary.LittleEndian.PutUint32(rec[20:24], e.TargetSource)
		tables.Write(rec)
	}
	tablesSize := uint32(tables.Len())

	var buf bytes.Buffer
	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[0:4], headerMagicStd)
	binary.LittleEndian.PutUint32(hdr[8:12], headerSize)
	binary.LittleEndian.PutUint32(hdr[28:32], tablesSize)
	buf.Write(hdr)

	descs := []descriptor{
		{offset: partOff, count: uint32(len(partitions)), entrySize: 48},
		{offset: extOff, count: uint32(len(extents)), entrySize: 24},
		{offset: 0, count: 0, entrySize: 0},
		{offset: 0, count: 0, entrySize: 0},
		{offset: 0, count: 0, entrySize: 0},
		{offset: 0, count: 0, entrySize: 0},
	}
	for _, d := range descs {
		var rec [12]byte
		binary.LittleEndian.PutUint32(rec[0:4], d.offset)
		binary.LittleEndian.PutUint32(rec[4:8], d.count)
		binary.LittleEndian.PutUint32(rec[8:12], d.entrySize)
		buf.Write(rec[:])
	}
	buf.Write(tables.Bytes())
	return buf.Bytes()
}

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b[off:])
	return n, nil
}

func TestParseAtAndResolveSectors(t *testing.T) {
	partitions := []PartitionEntry{
		{Name: "system_a", FirstExtent: 0, NumExtents: 1},
	}
	extents := []Extent{
		{NumSectors512: 2048, Kind: extentKindLinear, TargetData512: 4096},
	}
	blob := buildMetadataBlob(t, partitions, extents)

	// Place at the conventional 8192 offset so Locate finds it.
	super := make([]byte, 8192+len(blob))
	copy(super[8192:], blob)

	md, off, err := Locate(byteReaderAt(super))
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if off != 8192 {
		t.Errorf("Locate found offset %d, want 8192", off)
	}
	if len(md.Partitions) != 1 || md.Partitions[0].Name != "system_a" {
		t.Fatalf("unexpected partitions: %+v", md.Partitions)
	}

	const superStartSector = 1000
	const deviceSectorSize = 4096
	resolved := md.ResolveSectors(superStartSector, deviceSectorSize)
	if len(resolved) != 1 || len(resolved[0].Segments) != 1 {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
	seg := resolved[0].Segments[0]

	// §8 testable property: absolute_sector * sector_size ==
	// super_start_bytes + partition.super_offset_bytes.
	superStartBytes := uint64(superStartSector) * deviceSectorSize
	wantBytes := superStartBytes + extents[0].TargetData512*512
	gotBytes := seg.AbsoluteSector * deviceSectorSize
	if gotBytes != wantBytes {
		t.Errorf("absolute sector math mismatch: got %d bytes, want %d", gotBytes, wantBytes)
	}
}

func TestLinearExtentsOnlyFiltersNonLinear(t *testing.T) {
	md := &Metadata{
		Extents: []Extent{
			{Kind: extentKindLinear, NumSectors512: 10},
			{Kind: 99, NumSectors512: 20}, // non-LINEAR, e.g. ZERO-fill kind
		},
	}
	p := PartitionEntry{FirstExtent: 0, NumExtents: 2}
	got := md.LinearExtents(p)
	if len(got) != 1 || got[0].NumSectors512 != 10 {
		t.Errorf("LinearExtents = %+v, want only the single LINEAR extent", got)
	}
}
