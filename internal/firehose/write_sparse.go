package firehose

import (
	"context"
	"io"
	"strconv"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/sparse"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// WriteSparseImage writes img (already parsed by internal/sparse) to the
// partition described by req, whose StartSector is the partition's own
// absolute start sector. For each RAW/FILL data range it emits a <program>
// directive starting at partition_start + offset/sector_size and streams
// exactly that range's bytes, tail-padded to the sector size. An image with
// no data ranges (pure DONT_CARE) is materialized as a single <erase>
// covering the logical partition, per spec.md §4.7's "Sparse-aware write".
func (e *Engine) WriteSparseImage(ctx context.Context, req WriteRequest, img *sparse.Image, partitionSectors uint64) error {
	sectorSize := int64(e.session.SectorSizeBytes)
	if sectorSize <= 0 {
		return xerr.New(xerr.KindProtocolViolation, "firehose.WriteSparseImage", "Configure must run before WriteSparseImage")
	}

	ranges := img.DataRanges()
	if len(ranges) == 0 {
		return e.Erase(ctx, EraseRequest{
			PhysicalPartitionNumber: req.PhysicalPartitionNumber,
			StartSector:             req.StartSector,
			NumPartitionSectors:     partitionSectors,
		})
	}

	partitionStart := parseStartSectorSpec(req.StartSector)
	for i, r := range ranges {
		if ctx.Err() != nil {
			return xerr.Wrap(xerr.KindCancelled, "firehose.WriteSparseImage", ctx.Err(), "cancelled")
		}
		if r.Offset%sectorSize != 0 {
			return xerr.Errorf(xerr.KindMalformed, "firehose.WriteSparseImage", "data range offset %d is not sector-aligned", r.Offset)
		}
		rangeStartSector := r.Offset / sectorSize
		sub := WriteRequest{
			PhysicalPartitionNumber: req.PhysicalPartitionNumber,
			StartSector:             partitionStart.at(rangeStartSector),
			Filename:                req.Filename,
			Label:                   req.Label,
		}
		if err := e.WritePartition(ctx, sub, sparseRangeReaderAt{img: img, rangeOffset: r.Offset}, r.Length); err != nil {
			return xerr.Wrapf(xerr.KindTransportIO, "firehose.WriteSparseImage", err, "data range %d/%d", i+1, len(ranges))
		}
	}
	return nil
}

// sparseRangeReaderAt adapts one sparse.Image data range to io.ReaderAt
// with offset 0 aligned to the range's start, so WritePartition can stream
// it without knowing about sparse images at all.
type sparseRangeReaderAt struct {
	img         *sparse.Image
	rangeOffset int64
}

func (s sparseRangeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return s.img.ReadAt(p, s.rangeOffset+off)
}

var _ io.ReaderAt = sparseRangeReaderAt{}

// formatAbsoluteSector formats a number as a plain decimal string; vip.go
// uses it for the LUN suffix of the GPT masquerade filenames.
func formatAbsoluteSector(sector uint64) string {
	return strconv.FormatUint(sector, 10)
}
