package firehose

import (
	"context"
	"io"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// ReadRequest identifies the sectors to read, per spec.md §4.7's read
// directive. StartSector is a string rather than a number so callers can
// pass the negative-sector shorthand ("NUM_DISK_SECTORS-33.") verbatim,
// per spec.md §4.7's "Negative-sector addressing".
type ReadRequest struct {
	PhysicalPartitionNumber int
	StartSector             string
	NumPartitionSectors     uint64
}

// ReadPartition emits a <read> directive and streams exactly
// NumPartitionSectors*sector_size bytes to w, honoring chunking if
// configured. It returns the total bytes written.
func (e *Engine) ReadPartition(ctx context.Context, req ReadRequest, w io.Writer) (int64, error) {
	sectorSize := int64(e.session.SectorSizeBytes)
	if sectorSize <= 0 {
		return 0, xerr.New(xerr.KindProtocolViolation, "firehose.ReadPartition", "Configure must run before ReadPartition")
	}
	total := int64(req.NumPartitionSectors) * sectorSize
	chunk := e.effectivePayload()
	sectorsPerChunk := chunk / sectorSize
	if sectorsPerChunk <= 0 {
		sectorsPerChunk = 1
	}

	n := chunkCount(int64(req.NumPartitionSectors), sectorsPerChunk)
	if n == 0 {
		return 0, nil
	}

	startSector := parseStartSectorSpec(req.StartSector)
	var written int64
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return written, xerr.Wrap(xerr.KindCancelled, "firehose.ReadPartition", ctx.Err(), "cancelled")
		}
		remaining := int64(req.NumPartitionSectors) - int64(i)*sectorsPerChunk
		thisSectors := sectorsPerChunk
		if remaining < thisSectors {
			thisSectors = remaining
		}
		sizeBytes := thisSectors * sectorSize

		startStr := startSector.at(int64(i) * sectorsPerChunk)
		dreq := readRequest{
			SectorSizeInBytes:       int(sectorSize),
			NumPartitionSectors:     uint64(thisSectors),
			PhysicalPartitionNumber: req.PhysicalPartitionNumber,
			StartSector:             startStr,
			SizeInKB:                sizeBytes / 1024,
		}
		overflow, err := e.sendAndAwaitRawMode(ctx, dreq)
		if err != nil {
			return written, err
		}
		data, err := e.drainRawPayload(ctx, int(sizeBytes), overflow)
		if err != nil {
			return written, err
		}
		if _, err := w.Write(data); err != nil {
			return written, xerr.Wrap(xerr.KindTransportIO, "firehose.ReadPartition", err, "write to destination")
		}
		written += int64(len(data))

		if _, err := e.readFinalACK(ctx); err != nil {
			return written, err
		}
		e.reportProgress(i+1, n, written)
	}
	if written != total {
		return written, xerr.Errorf(xerr.KindProtocolViolation, "firehose.ReadPartition", "read %d bytes, expected %d", written, total)
	}
	return written, nil
}
