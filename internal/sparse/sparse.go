// Package sparse implements the Android Sparse image format: parsing the
// fixed 28-byte header and chunk index, lazily expanding chunks to a raw
// byte stream, enumerating the (offset, length) ranges that actually carry
// data, and re-splitting an image into wire-size-bounded groups.
//
// Binary layout handling (explicit struct-per-wire-record, encoding/binary
// decode, byte-offset comments) is grounded on zchee-go-qcow2's
// QCowHeader/ExtensionHeader structuring.
package sparse

import (
	"encoding/binary"
	"io"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// Magic is the sparse image file magic, little-endian on disk.
const Magic uint32 = 0xED26FF3A

// HeaderSize is the fixed, on-wire size of Header in bytes.
const HeaderSize = 28

// ChunkHeaderSize is the fixed, on-wire size of a chunk header in bytes.
const ChunkHeaderSize = 12

// ChunkType enumerates the sparse chunk tags.
type ChunkType uint16

const (
	ChunkRaw      ChunkType = 0xCAC1
	ChunkFill     ChunkType = 0xCAC2
	ChunkDontCare ChunkType = 0xCAC3
	ChunkCRC32    ChunkType = 0xCAC4
)

func (t ChunkType) String() string {
	switch t {
	case ChunkRaw:
		return "RAW"
	case ChunkFill:
		return "FILL"
	case ChunkDontCare:
		return "DONT_CARE"
	case ChunkCRC32:
		return "CRC32"
	default:
		return "UNKNOWN"
	}
}

// Header is the fixed 28-byte sparse image header. //     [0:3] magic
type Header struct {
	Magic         uint32 //  [0:3]   0xED26FF3A
	MajorVersion  uint16 //  [4:5]
	MinorVersion  uint16 //  [6:7]
	FileHdrSize   uint16 //  [8:9]   sizeof(Header), always HeaderSize
	ChunkHdrSize  uint16 // [10:11]  sizeof(chunk header), always ChunkHeaderSize
	BlockSize     uint32 // [12:15] multiple of 4
	TotalBlocks   uint32 // [16:19]
	TotalChunks   uint32 // [20:23]
	ImageChecksum uint32 // [24:27] CRC32 of the original unsparsed image, 0 if absent
}

// Chunk describes one parsed chunk record: its type, block count, and where
// its payload lives in the source, without the payload bytes themselves.
type Chunk struct {
	Type        ChunkType
	ChunkBlocks uint32
	TotalSize   uint32 // header + payload, as it appears on the wire

	// PayloadOffset/PayloadLength locate the chunk's payload within the
	// source reader that Parse was given; PayloadLength is 0 for
	// DONT_CARE/CRC32 chunks.
	PayloadOffset int64
	PayloadLength int64
}

// Image is a parsed sparse image: its header plus an ordered chunk index.
// Parse does not read payload bytes into memory; callers obtain them via
// Image.ReadAt/DataRanges against the original source.
type Image struct {
	Header Header
	Chunks []Chunk

	// BlockSize/TotalBlocks cached from Header for convenience.
	BlockSize   uint32
	TotalBlocks uint32

	src io.ReaderAt
}

// Probe reads the first 4 bytes of src and reports whether they match the
// sparse magic.
func Probe(r io.ReaderAt) (bool, error) {
	var buf [4]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, xerr.Wrap(xerr.KindTransportIO, "sparse.Probe", err, "read magic")
	}
	return binary.LittleEndian.Uint32(buf[:]) == Magic, nil
}

// Parse reads the header and chunk index from src (which must also support
// io.ReaderAt for later random-access expansion) and validates the
// invariants from spec.md §3: Σ chunk blocks = header total blocks.
func Parse(src io.ReaderAt) (*Image, error) {
	var hbuf [HeaderSize]byte
	if _, err := src.ReadAt(hbuf[:], 0); err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "sparse.Parse", err, "read header")
	}
	h := Header{
		Magic:         binary.LittleEndian.Uint32(hbuf[0:4]),
		MajorVersion:  binary.LittleEndian.Uint16(hbuf[4:6]),
		MinorVersion:  binary.LittleEndian.Uint16(hbuf[6:8]),
		FileHdrSize:   binary.LittleEndian.Uint16(hbuf[8:10]),
		ChunkHdrSize:  binary.LittleEndian.Uint16(hbuf[10:12]),
		BlockSize:     binary.LittleEndian.Uint32(hbuf[12:16]),
		TotalBlocks:   binary.LittleEndian.Uint32(hbuf[16:20]),
		TotalChunks:   binary.LittleEndian.Uint32(hbuf[20:24]),
		ImageChecksum: binary.LittleEndian.Uint32(hbuf[24:28]),
	}
	if h.Magic != Magic {
		return nil, xerr.Errorf(xerr.KindMalformed, "sparse.Parse", "bad magic %#x", h.Magic)
	}
	if h.FileHdrSize != HeaderSize {
		return nil, xerr.Errorf(xerr.KindMalformed, "sparse.Parse", "unexpected file header size %d", h.FileHdrSize)
	}

	img := &Image{Header: h, BlockSize: h.BlockSize, TotalBlocks: h.TotalBlocks, src: src}

	pos := int64(h.FileHdrSize)
	var sumBlocks uint64
	for i := uint32(0); i < h.TotalChunks; i++ {
		var cbuf [ChunkHeaderSize]byte
		if _, err := src.ReadAt(cbuf[:], pos); err != nil {
			return nil, xerr.Wrapf(xerr.KindMalformed, "sparse.Parse", err, "read chunk %d header", i)
		}
		typ := ChunkType(binary.LittleEndian.Uint16(cbuf[0:2]))
		blocks := binary.LittleEndian.Uint32(cbuf[4:8])
		total := binary.LittleEndian.Uint32(cbuf[8:12])

		payloadOff := pos + ChunkHeaderSize
		payloadLen := int64(total) - ChunkHeaderSize
		if payloadLen < 0 {
			return nil, xerr.Errorf(xerr.KindMalformed, "sparse.Parse", "chunk %d total size %d smaller than chunk header", i, total)
		}

		switch typ {
		case ChunkRaw:
			want := int64(blocks) * int64(h.BlockSize)
			if payloadLen != want {
				return nil, xerr.Errorf(xerr.KindMalformed, "sparse.Parse", "RAW chunk %d payload %d bytes, want %d", i, payloadLen, want)
			}
		case ChunkFill:
			if payloadLen != 4 {
				return nil, xerr.Errorf(xerr.KindMalformed, "sparse.Parse", "FILL chunk %d payload %d bytes, want 4", i, payloadLen)
			}
		case ChunkDontCare, ChunkCRC32:
			if payloadLen != 0 {
				return nil, xerr.Errorf(xerr.KindMalformed, "sparse.Parse", "%s chunk %d has unexpected payload of %d bytes", typ, i, payloadLen)
			}
		default:
			return nil, xerr.Errorf(xerr.KindMalformed, "sparse.Parse", "chunk %d has unknown type %#x", i, typ)
		}

		img.Chunks = append(img.Chunks, Chunk{
			Type:          typ,
			ChunkBlocks:   blocks,
			TotalSize:     total,
			PayloadOffset: payloadOff,
			PayloadLength: payloadLen,
		})
		sumBlocks += uint64(blocks)
		pos += int64(total)
	}

	if sumBlocks != uint64(h.TotalBlocks) {
		return nil, xerr.Errorf(xerr.KindMalformed, "sparse.Parse", "chunk blocks sum to %d, header declares %d total blocks", sumBlocks, h.TotalBlocks)
	}
	return img, nil
}

// ExpandedSize returns the image's fully expanded (raw) length in bytes.
func (img *Image) ExpandedSize() int64 {
	return int64(img.TotalBlocks) * int64(img.BlockSize)
}

// chunkExpandedRange returns the [start, end) byte range chunk i occupies in
// the expanded output.
func (img *Image) chunkExpandedRange(i int) (start, end int64) {
	var off int64
	for j := 0; j < i; j++ {
		off += int64(img.Chunks[j].ChunkBlocks) * int64(img.BlockSize)
	}
	start = off
	end = off + int64(img.Chunks[i].ChunkBlocks)*int64(img.BlockSize)
	return
}

// ReadAt implements io.ReaderAt against the expanded (raw) image, per
// spec.md §4.2's random-access expansion: RAW copies from the source,
// FILL replicates its 4-byte word, DONT_CARE/CRC32 zero-fill.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	total := img.ExpandedSize()
	if off >= total {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && off+int64(n) < total {
		pos := off + int64(n)
		ci, chunkStart := img.locateChunk(pos)
		if ci < 0 {
			break
		}
		chunk := img.Chunks[ci]
		withinChunk := pos - chunkStart
		chunkLen := int64(chunk.ChunkBlocks) * int64(img.BlockSize)
		avail := chunkLen - withinChunk
		want := int64(len(p) - n)
		if want > avail {
			want = avail
		}

		switch chunk.Type {
		case ChunkRaw:
			if _, err := img.src.ReadAt(p[n:n+int(want)], chunk.PayloadOffset+withinChunk); err != nil {
				return n, xerr.Wrap(xerr.KindMalformed, "sparse.ReadAt", err, "read RAW payload")
			}
		case ChunkFill:
			var word [4]byte
			if _, err := img.src.ReadAt(word[:], chunk.PayloadOffset); err != nil {
				return n, xerr.Wrap(xerr.KindMalformed, "sparse.ReadAt", err, "read FILL word")
			}
			for k := int64(0); k < want; k++ {
				p[n+int(k)] = word[(withinChunk+k)%4]
			}
		case ChunkDontCare, ChunkCRC32:
			for k := int64(0); k < want; k++ {
				p[n+int(k)] = 0
			}
		}
		n += int(want)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// locateChunk finds the chunk containing expanded-offset pos via a
// prefix-sum scan, returning its index and its expanded start offset.
func (img *Image) locateChunk(pos int64) (idx int, chunkStart int64) {
	var off int64
	for i, c := range img.Chunks {
		size := int64(c.ChunkBlocks) * int64(img.BlockSize)
		if pos < off+size {
			return i, off
		}
		off += size
	}
	return -1, 0
}

// DataRange is one (expanded_offset, byte_length) run of actual data, per
// spec.md §4.2's data-range enumeration.
type DataRange struct {
	Offset int64
	Length int64
}

// DataRanges returns the ordered list of RAW/FILL regions, merging adjacent
// chunks of either kind into contiguous runs. DONT_CARE/CRC32 chunks are
// gaps in this enumeration.
func (img *Image) DataRanges() []DataRange {
	var ranges []DataRange
	var off int64
	for _, c := range img.Chunks {
		size := int64(c.ChunkBlocks) * int64(img.BlockSize)
		if c.Type == ChunkRaw || c.Type == ChunkFill {
			if n := len(ranges); n > 0 && ranges[n-1].Offset+ranges[n-1].Length == off {
				ranges[n-1].Length += size
			} else {
				ranges = append(ranges, DataRange{Offset: off, Length: size})
			}
		}
		off += size
	}
	return ranges
}
