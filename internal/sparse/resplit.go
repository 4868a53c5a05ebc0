package sparse

import "github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"

// Group is one self-contained sparse image produced by Resplit: a run of the
// original image's chunks whose serialized size fits within the caller's
// wire-packet budget, plus the header that should be emitted for it.
type Group struct {
	Header Header
	Chunks []Chunk
}

// Resplit groups img's chunks into consecutive runs whose serialized size
// (header + chunk records + chunk payloads) fits maxWireSize, per spec.md
// §4.2. Each group's header inherits block size and version from img,
// recomputes total_blocks/total_chunks for the group, and sets checksum to
// 0 (the source format's re-splitter does not recompute a correct CRC32
// trailer either — see DESIGN.md's Open Questions disposition). A single
// oversized chunk forms its own group.
func Resplit(img *Image, maxWireSize int64) ([]Group, error) {
	if maxWireSize <= HeaderSize+ChunkHeaderSize {
		return nil, xerr.Errorf(xerr.KindMalformed, "sparse.Resplit", "max wire size %d too small to hold even one chunk", maxWireSize)
	}

	var groups []Group
	var cur []Chunk
	var curSize int64 = HeaderSize

	flush := func() {
		if len(cur) == 0 {
			return
		}
		groups = append(groups, buildGroup(img, cur))
		cur = nil
		curSize = HeaderSize
	}

	for _, c := range img.Chunks {
		chunkWireSize := int64(c.TotalSize)
		if curSize+chunkWireSize > maxWireSize && len(cur) > 0 {
			flush()
		}
		cur = append(cur, c)
		curSize += chunkWireSize
		if curSize > maxWireSize && len(cur) == 1 {
			// A single oversized chunk forms its own group.
			flush()
		}
	}
	flush()

	return groups, nil
}

func buildGroup(img *Image, chunks []Chunk) Group {
	var totalBlocks uint64
	for _, c := range chunks {
		totalBlocks += uint64(c.ChunkBlocks)
	}
	h := Header{
		Magic:         Magic,
		MajorVersion:  img.Header.MajorVersion,
		MinorVersion:  img.Header.MinorVersion,
		FileHdrSize:   HeaderSize,
		ChunkHdrSize:  ChunkHeaderSize,
		BlockSize:     img.BlockSize,
		TotalBlocks:   uint32(totalBlocks),
		TotalChunks:   uint32(len(chunks)),
		ImageChecksum: 0,
	}
	return Group{Header: h, Chunks: chunks}
}

// SerializedSize returns the byte size a Group would occupy on the wire:
// header plus each chunk's header-and-payload size.
func (g Group) SerializedSize() int64 {
	size := int64(HeaderSize)
	for _, c := range g.Chunks {
		size += int64(c.TotalSize)
	}
	return size
}
