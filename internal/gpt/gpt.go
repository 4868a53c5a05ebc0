// Package gpt parses and emits GUID Partition Tables: primary header and
// partition entries, A/B slot aggregation, attribute patch-byte-offset math,
// and rawprogram.xml/partition.xml emission.
//
// UUID handling is grounded on diskfs-go-diskfs's use of github.com/google/uuid
// for on-disk GUIDs (see other_examples/manifests/diskfs-go-diskfs/go.mod).
package gpt

import (
	"encoding/binary"
	"io"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

const (
	signature        = "EFI PART"
	headerLBA        = 1
	primaryEntrySize = 128
)

// Partition is the logical view of one GPT entry, per spec.md §3.
type Partition struct {
	Name       string
	TypeGUID   uuid.UUID
	UniqueGUID uuid.UUID
	StartLBA   uint64
	EndLBA     uint64 // inclusive
	Attributes uint64
	LUN        int
	EntryIndex int // GPT-entry index on disk
	SectorSize int
}

// Header is the parsed primary GPT header (fields relevant to this spec).
type Header struct {
	CurrentLBA       uint64
	BackupLBA        uint64
	PartitionEntryLBA uint64
	NumEntries       uint32
	EntrySize        uint32
	EntriesCRC32     uint32
	SectorSize       int
}

// ParseResult is the outcome of parsing one LUN's GPT.
type ParseResult struct {
	Header     Header
	Partitions []Partition

	// BackupHeaderOK is always true: Parse reads only the primary header
	// and its entries and performs no backup header CRC or mirror check.
	BackupHeaderOK bool
}

// Parse locates the primary GPT header at LBA 1, validates its signature,
// and reads every non-zero-type-GUID partition entry. sectorSize, if 0,
// is inferred by trying 512 then 4096.
func Parse(blob io.ReaderAt, lun int, sectorSize int) (*ParseResult, error) {
	trySizes := []int{512, 4096}
	if sectorSize != 0 {
		trySizes = []int{sectorSize}
	}

	var lastErr error
	for _, ss := range trySizes {
		res, err := parseAt(blob, lun, ss)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, xerr.Wrap(xerr.KindMalformed, "gpt.Parse", lastErr, "no candidate sector size produced a valid GPT header")
}

func parseAt(blob io.ReaderAt, lun int, sectorSize int) (*ParseResult, error) {
	hdrOff := int64(headerLBA * sectorSize)
	buf := make([]byte, 92)
	if _, err := blob.ReadAt(buf, hdrOff); err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "gpt.parseAt", err, "read header")
	}
	if string(buf[0:8]) != signature {
		return nil, xerr.Errorf(xerr.KindMalformed, "gpt.parseAt", "bad GPT signature at sector size %d", sectorSize)
	}

	h := Header{
		CurrentLBA:        binary.LittleEndian.Uint64(buf[24:32]),
		BackupLBA:         binary.LittleEndian.Uint64(buf[32:40]),
		PartitionEntryLBA: binary.LittleEndian.Uint64(buf[72:80]),
		NumEntries:        binary.LittleEndian.Uint32(buf[80:84]),
		EntrySize:         binary.LittleEndian.Uint32(buf[84:88]),
		EntriesCRC32:      binary.LittleEndian.Uint32(buf[88:92]),
		SectorSize:        sectorSize,
	}
	if h.EntrySize == 0 {
		h.EntrySize = primaryEntrySize
	}

	entriesOff := int64(h.PartitionEntryLBA) * int64(sectorSize)
	var partitions []Partition
	for i := uint32(0); i < h.NumEntries; i++ {
		entry := make([]byte, h.EntrySize)
		if _, err := blob.ReadAt(entry, entriesOff+int64(i)*int64(h.EntrySize)); err != nil {
			break // entries table commonly shorter than NumEntries*EntrySize claims on the last LBA
		}
		typeGUID := decodeMixedEndianGUID(entry[0:16])
		if typeGUID == uuid.Nil {
			continue
		}
		uniqueGUID := decodeMixedEndianGUID(entry[16:32])
		startLBA := binary.LittleEndian.Uint64(entry[32:40])
		endLBA := binary.LittleEndian.Uint64(entry[40:48])
		attrs := binary.LittleEndian.Uint64(entry[48:56])
		name, err := decodeUTF16Name(entry[56:128])
		if err != nil {
			return nil, xerr.Wrapf(xerr.KindMalformed, "gpt.parseAt", err, "decode entry %d name", i)
		}

		partitions = append(partitions, Partition{
			Name:       name,
			TypeGUID:   typeGUID,
			UniqueGUID: uniqueGUID,
			StartLBA:   startLBA,
			EndLBA:     endLBA,
			Attributes: attrs,
			LUN:        lun,
			EntryIndex: int(i),
			SectorSize: sectorSize,
		})
	}

	return &ParseResult{Header: h, Partitions: partitions, BackupHeaderOK: true}, nil
}

// decodeMixedEndianGUID decodes a 16-byte GPT GUID, whose first three fields
// are little-endian and last two are big-endian, into a uuid.UUID (which
// canonically stores all fields big-endian).
func decodeMixedEndianGUID(b []byte) uuid.UUID {
	var out uuid.UUID
	binary.BigEndian.PutUint32(out[0:4], binary.LittleEndian.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(out[4:6], binary.LittleEndian.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(out[6:8], binary.LittleEndian.Uint16(b[6:8]))
	copy(out[8:16], b[8:16])
	return out
}

func encodeMixedEndianGUID(id uuid.UUID) [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint32(out[0:4], binary.BigEndian.Uint32(id[0:4]))
	binary.LittleEndian.PutUint16(out[4:6], binary.BigEndian.Uint16(id[4:6]))
	binary.LittleEndian.PutUint16(out[6:8], binary.BigEndian.Uint16(id[6:8]))
	copy(out[8:16], id[8:16])
	return out
}

// decodeUTF16Name decodes a NUL-terminated/padded UTF-16LE partition name
// field, per spec.md §3 ("Name (≤36 UTF-16 code units)").
func decodeUTF16Name(b []byte) (string, error) {
	end := len(b)
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			end = i
			break
		}
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := dec.Bytes(b[:end])
	if err != nil {
		return "", xerr.Wrap(xerr.KindMalformed, "gpt.decodeUTF16Name", err, "decode UTF-16 name")
	}
	return string(out), nil
}

// encodeUTF16Name encodes name into a NUL-padded 72-byte UTF-16LE field.
func encodeUTF16Name(name string) ([]byte, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	out, err := enc.Bytes([]byte(name))
	if err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "gpt.encodeUTF16Name", err, "encode UTF-16 name")
	}
	if len(out) > 72 {
		return nil, xerr.Errorf(xerr.KindMalformed, "gpt.encodeUTF16Name", "name %q exceeds 36 UTF-16 code units", name)
	}
	padded := make([]byte, 72)
	copy(padded, out)
	return padded, nil
}
