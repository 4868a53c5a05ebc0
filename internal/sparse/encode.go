package sparse

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// WriteHeader serializes h in the on-wire 28-byte little-endian layout.
func WriteHeader(w io.Writer, h Header) error {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.MajorVersion)
	binary.LittleEndian.PutUint16(buf[6:8], h.MinorVersion)
	binary.LittleEndian.PutUint16(buf[8:10], h.FileHdrSize)
	binary.LittleEndian.PutUint16(buf[10:12], h.ChunkHdrSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.BlockSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.TotalBlocks)
	binary.LittleEndian.PutUint32(buf[20:24], h.TotalChunks)
	binary.LittleEndian.PutUint32(buf[24:28], h.ImageChecksum)
	_, err := w.Write(buf[:])
	return err
}

func writeChunkHeader(w io.Writer, c Chunk) error {
	var buf [ChunkHeaderSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], uint16(c.Type))
	binary.LittleEndian.PutUint16(buf[2:4], 0) // reserved
	binary.LittleEndian.PutUint32(buf[4:8], c.ChunkBlocks)
	binary.LittleEndian.PutUint32(buf[8:12], c.TotalSize)
	_, err := w.Write(buf[:])
	return err
}

// WriteGroup serializes g (header, then each chunk header and payload,
// fetched from src) into w.
func WriteGroup(w io.Writer, g Group, src io.ReaderAt) error {
	if err := WriteHeader(w, g.Header); err != nil {
		return xerr.Wrap(xerr.KindTransportIO, "sparse.WriteGroup", err, "write header")
	}
	for _, c := range g.Chunks {
		if err := writeChunkHeader(w, c); err != nil {
			return xerr.Wrap(xerr.KindTransportIO, "sparse.WriteGroup", err, "write chunk header")
		}
		if c.PayloadLength == 0 {
			continue
		}
		buf := make([]byte, c.PayloadLength)
		if _, err := src.ReadAt(buf, c.PayloadOffset); err != nil {
			return xerr.Wrap(xerr.KindTransportIO, "sparse.WriteGroup", err, "read chunk payload")
		}
		if _, err := w.Write(buf); err != nil {
			return xerr.Wrap(xerr.KindTransportIO, "sparse.WriteGroup", err, "write chunk payload")
		}
	}
	return nil
}

// Resparsify builds a minimal sparse Image (in memory) out of raw bytes by
// emitting one RAW chunk per blockSize-aligned run of non-zero data and a
// DONT_CARE chunk for the rest, used by tests to exercise the round-trip
// invariant in spec.md §8 (expand, then re-sparsify the RAW+FILL regions,
// should expand back to the same bytes).
func Resparsify(raw []byte, blockSize uint32) (*Image, *bytes.Buffer) {
	totalBlocks := uint32((len(raw) + int(blockSize) - 1) / int(blockSize))
	var chunks []Chunk
	var payload bytes.Buffer

	pos := int64(HeaderSize)
	isZeroBlock := func(b []byte) bool {
		for _, v := range b {
			if v != 0 {
				return false
			}
		}
		return true
	}

	i := 0
	for i < int(totalBlocks) {
		start := i * int(blockSize)
		end := start + int(blockSize)
		if end > len(raw) {
			end = len(raw)
		}
		if isZeroBlock(raw[start:end]) {
			j := i
			for j < int(totalBlocks) {
				s2 := j * int(blockSize)
				e2 := s2 + int(blockSize)
				if e2 > len(raw) {
					e2 = len(raw)
				}
				if !isZeroBlock(raw[s2:e2]) {
					break
				}
				j++
			}
			blocks := uint32(j - i)
			chunks = append(chunks, Chunk{
				Type:        ChunkDontCare,
				ChunkBlocks: blocks,
				TotalSize:   ChunkHeaderSize,
			})
			pos += ChunkHeaderSize
			i = j
			continue
		}
		j := i
		for j < int(totalBlocks) {
			s2 := j * int(blockSize)
			e2 := s2 + int(blockSize)
			if e2 > len(raw) {
				e2 = len(raw)
			}
			if isZeroBlock(raw[s2:e2]) {
				break
			}
			j++
		}
		blocks := uint32(j - i)
		segStart := i * int(blockSize)
		segEnd := j * int(blockSize)
		if segEnd > len(raw) {
			segEnd = len(raw)
		}
		payloadOff := payload.Len()
		payload.Write(raw[segStart:segEnd])
		// Zero-pad the final partial block, as RAW chunks must carry
		// exactly blocks*blockSize bytes.
		for payload.Len()-payloadOff < int(blocks)*int(blockSize) {
			payload.WriteByte(0)
		}
		chunks = append(chunks, Chunk{
			Type:          ChunkRaw,
			ChunkBlocks:   blocks,
			TotalSize:     uint32(ChunkHeaderSize + int(blocks)*int(blockSize)),
			PayloadOffset: int64(payloadOff),
			PayloadLength: int64(blocks) * int64(blockSize),
		})
		pos += int64(chunks[len(chunks)-1].TotalSize)
		i = j
	}

	h := Header{
		Magic:        Magic,
		MajorVersion: 1,
		FileHdrSize:  HeaderSize,
		ChunkHdrSize: ChunkHeaderSize,
		BlockSize:    blockSize,
		TotalBlocks:  totalBlocks,
		TotalChunks:  uint32(len(chunks)),
	}
	payloadBytes := payload.Bytes()
	img := &Image{Header: h, Chunks: chunks, BlockSize: blockSize, TotalBlocks: totalBlocks, src: bytesReaderAt(payloadBytes)}
	return img, &payload
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
