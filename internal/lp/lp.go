// Package lp parses Android dynamic-partition LP metadata: the geometry
// block, header, table descriptors, and the partition and extent tables (the
// group and block-device tables are not decoded), and resolves each
// partition's extents to absolute device sectors.
package lp

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

const (
	geometryMagic     = 0x616C4467
	geometryOffset    = 4096
	geometrySize      = 4096
	headerMagicStd    = 0x41680530
	headerMagicLenovo = 0x414C5030

	extentKindLinear = 0
)

// candidateOffsets are the metadata offsets tried in order, per spec.md
// §4.4's "Locate header" operation.
var candidateOffsets = []int64{8192, 12288, 4096, 16384}

// Geometry is the fixed block at super byte offset 4096, per spec.md §3.
type Geometry struct {
	MetadataMaxSize uint32
	SlotCount       uint32
}

// ParseGeometry reads and validates the LpGeometry block.
func ParseGeometry(super io.ReaderAt) (Geometry, error) {
	buf := make([]byte, geometrySize)
	if _, err := super.ReadAt(buf, geometryOffset); err != nil {
		return Geometry{}, xerr.Wrap(xerr.KindMalformed, "lp.ParseGeometry", err, "read geometry block")
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != geometryMagic {
		return Geometry{}, xerr.Errorf(xerr.KindMalformed, "lp.ParseGeometry", "bad geometry magic %#x", magic)
	}
	return Geometry{
		MetadataMaxSize: binary.LittleEndian.Uint32(buf[4:8]),
		SlotCount:       binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// Extent is one (num_sectors, kind, target_data, target_source) record.
type Extent struct {
	NumSectors512 uint64
	Kind          uint32
	TargetData512 uint64
	TargetSource  uint32
}

// PartitionEntry is one parsed LP partition table row.
type PartitionEntry struct {
	Name        string
	Attributes  uint32
	FirstExtent uint32
	NumExtents  uint32
}

// Metadata is a parsed LP metadata blob: header fields plus the partition
// and extent tables.
type Metadata struct {
	HeaderMagic uint32
	HeaderSize  uint32
	TablesSize  uint32

	Partitions []PartitionEntry
	Extents    []Extent
}

// descriptor mirrors the offset/count/entry-size triad used by each of the
// six LP metadata tables.
type descriptor struct {
	offset    uint32
	count     uint32
	entrySize uint32
}

// Locate tries candidateOffsets in order and returns the first metadata blob
// that parses with a recognized header magic, per spec.md §4.4.
func Locate(super io.ReaderAt) (*Metadata, int64, error) {
	var lastErr error
	for _, off := range candidateOffsets {
		md, err := parseAt(super, off)
		if err == nil {
			return md, off, nil
		}
		lastErr = err
	}
	return nil, 0, xerr.Wrap(xerr.KindMalformed, "lp.Locate", lastErr, "no candidate offset yielded valid LP metadata")
}

func parseAt(super io.ReaderAt, off int64) (*Metadata, error) {
	// Fixed LpMetadataHeader prefix: magic(4) majorVersion(2) minorVersion(2)
	// headerSize(4) headerChecksum(16, unused here) tablesSize(4)
	// tablesChecksum(16, unused here).
	hdr := make([]byte, 32)
	if _, err := super.ReadAt(hdr, off); err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "lp.parseAt", err, "read header prefix")
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != headerMagicStd && magic != headerMagicLenovo {
		return nil, xerr.Errorf(xerr.KindMalformed, "lp.parseAt", "unrecognized header magic %#x at offset %d", magic, off)
	}
	headerSize := binary.LittleEndian.Uint32(hdr[8:12])
	tablesSize := binary.LittleEndian.Uint32(hdr[28:32])

	// Per spec.md §4.4: "at header_size bytes into the metadata blob, read
	// the six descriptors" (partition/extent/group/block-device, plus two
	// reserved slots observed on-wire); the tables blob itself begins right
	// after those six descriptor records, and each descriptor's offset is
	// relative to that tables-blob start.
	const numDescriptors = 6
	descBuf := make([]byte, 12*numDescriptors)
	if _, err := super.ReadAt(descBuf, off+int64(headerSize)); err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "lp.parseAt", err, "read table descriptors")
	}

	tablesStart := off + int64(headerSize) + int64(len(descBuf))
	tables := make([]byte, tablesSize)
	if _, err := super.ReadAt(tables, tablesStart); err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "lp.parseAt", err, "read tables blob")
	}
	descs := make([]descriptor, numDescriptors)
	for i := range descs {
		b := descBuf[i*12 : i*12+12]
		descs[i] = descriptor{
			offset:    binary.LittleEndian.Uint32(b[0:4]),
			count:     binary.LittleEndian.Uint32(b[4:8]),
			entrySize: binary.LittleEndian.Uint32(b[8:12]),
		}
	}
	partDesc, extDesc := descs[0], descs[1]
	for _, d := range []struct {
		desc    descriptor
		minSize uint32
	}{{partDesc, 48}, {extDesc, 24}} {
		if d.desc.count > 0 && (d.desc.entrySize < d.minSize || uint64(d.desc.offset)+uint64(d.desc.count)*uint64(d.desc.entrySize) > uint64(len(tables))) {
			return nil, xerr.Errorf(xerr.KindMalformed, "lp.parseAt", "table descriptor (offset %d, count %d, entry size %d) out of bounds for %d-byte tables blob", d.desc.offset, d.desc.count, d.desc.entrySize, len(tables))
		}
	}

	md := &Metadata{HeaderMagic: magic, HeaderSize: headerSize, TablesSize: tablesSize}

	for i := uint32(0); i < partDesc.count; i++ {
		rec := tables[partDesc.offset+i*partDesc.entrySize : partDesc.offset+(i+1)*partDesc.entrySize]
		name := strings.TrimRight(string(rec[0:36]), "\x00")
		md.Partitions = append(md.Partitions, PartitionEntry{
			Name:        name,
			Attributes:  binary.LittleEndian.Uint32(rec[36:40]),
			FirstExtent: binary.LittleEndian.Uint32(rec[40:44]),
			NumExtents:  binary.LittleEndian.Uint32(rec[44:48]),
		})
	}

	for i := uint32(0); i < extDesc.count; i++ {
		rec := tables[extDesc.offset+i*extDesc.entrySize : extDesc.offset+(i+1)*extDesc.entrySize]
		md.Extents = append(md.Extents, Extent{
			NumSectors512: binary.LittleEndian.Uint64(rec[0:8]),
			Kind:          binary.LittleEndian.Uint32(rec[8:12]),
			TargetData512: binary.LittleEndian.Uint64(rec[12:20]),
			TargetSource:  binary.LittleEndian.Uint32(rec[20:24]),
		})
	}

	return md, nil
}

// LinearExtents returns p's extents, restricted to kind == LINEAR, per
// spec.md §4.4's "Accept only LINEAR extents".
func (md *Metadata) LinearExtents(p PartitionEntry) []Extent {
	var out []Extent
	for i := p.FirstExtent; i < p.FirstExtent+p.NumExtents && int(i) < len(md.Extents); i++ {
		if md.Extents[i].Kind == extentKindLinear {
			out = append(out, md.Extents[i])
		}
	}
	return out
}

// LogicalPartition is the resolved view of a partition: its name, attributes,
// and extents translated to absolute device sectors.
type LogicalPartition struct {
	Name       string
	Attributes uint32
	Segments   []ResolvedExtent
}

// ResolvedExtent is one extent's absolute device sector range.
type ResolvedExtent struct {
	NumSectors     uint64
	AbsoluteSector uint64
}

// ResolveSectors converts every LINEAR extent of every partition in md to
// absolute device sectors given the super partition's physical start sector
// and the device's sector size, per spec.md §3's conversion formula:
// absolute = super_start + (super_offset_512B * 512 / device_sector_size).
func (md *Metadata) ResolveSectors(superStartSector uint64, deviceSectorSize uint64) []LogicalPartition {
	var out []LogicalPartition
	for _, p := range md.Partitions {
		lp := LogicalPartition{Name: p.Name, Attributes: p.Attributes}
		for _, ext := range md.LinearExtents(p) {
			offsetBytes := ext.TargetData512 * 512
			abs := superStartSector + offsetBytes/deviceSectorSize
			lp.Segments = append(lp.Segments, ResolvedExtent{
				NumSectors:     ext.NumSectors512 * 512 / deviceSectorSize,
				AbsoluteSector: abs,
			})
		}
		out = append(out, lp)
	}
	return out
}
