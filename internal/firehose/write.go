package firehose

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/bufpool"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// WriteRequest identifies the destination of a program directive, per
// spec.md §4.7's write path.
type WriteRequest struct {
	PhysicalPartitionNumber int
	StartSector             string
	Filename                string
	Label                   string
}

// WritePartition emits one or more <program> directives covering size bytes
// read from src starting at offset 0, per spec.md §4.7's Write path and
// Chunked transfer. The payload is tail-padded to the sector size; the
// pad's extra bytes are zero, per spec.md §8's Firehose padding invariant.
func (e *Engine) WritePartition(ctx context.Context, req WriteRequest, src io.ReaderAt, size int64) error {
	sectorSize := int64(e.session.SectorSizeBytes)
	if sectorSize <= 0 {
		return xerr.New(xerr.KindProtocolViolation, "firehose.WritePartition", "Configure must run before WritePartition")
	}
	chunk := e.effectivePayload()
	sectorsPerChunk := chunk / sectorSize
	if sectorsPerChunk <= 0 {
		sectorsPerChunk = 1
	}
	chunkBytes := sectorsPerChunk * sectorSize

	paddedTotal := padToSector(size, sectorSize)
	totalSectors := paddedTotal / sectorSize
	n := chunkCount(totalSectors, sectorsPerChunk)
	if n == 0 {
		return nil
	}

	startSector := parseStartSectorSpec(req.StartSector)
	var written int64
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return xerr.Wrap(xerr.KindCancelled, "firehose.WritePartition", ctx.Err(), "cancelled")
		}
		remainingSectors := totalSectors - int64(i)*sectorsPerChunk
		thisSectors := sectorsPerChunk
		if remainingSectors < thisSectors {
			thisSectors = remainingSectors
		}
		thisBytes := thisSectors * sectorSize
		srcOffset := int64(i) * chunkBytes
		srcLen := thisBytes
		if srcOffset+srcLen > size {
			srcLen = size - srcOffset
			if srcLen < 0 {
				srcLen = 0
			}
		}

		dreq := programRequest{
			SectorSizeInBytes:       int(sectorSize),
			Filename:                req.Filename,
			Label:                   req.Label,
			NumPartitionSectors:     uint64(thisSectors),
			PhysicalPartitionNumber: req.PhysicalPartitionNumber,
			StartSector:             startSector.at(int64(i) * sectorsPerChunk),
		}
		if err := e.writeOneProgram(ctx, dreq, src, srcOffset, srcLen, thisBytes); err != nil {
			return err
		}
		written += thisBytes
		e.reportProgress(i+1, n, written)
	}
	return nil
}

// writeOneProgram sends one <program> directive and streams its payload
// with the two-buffer pipeline from spec.md §5: while buffer A is pushed to
// the wire, buffer B is concurrently filled from src, using bufpool's 4 MiB
// class as the USB-3-optimal unit, per spec.md §4.7.
func (e *Engine) writeOneProgram(ctx context.Context, dreq programRequest, src io.ReaderAt, srcOffset, srcLen, wireLen int64) error {
	if err := e.sendAndAwaitRawModeForWrite(ctx, dreq); err != nil {
		return err
	}

	const unit = bufpool.Size4MiB
	type filled struct {
		buf []byte
		n   int
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan filled, 1)

	g.Go(func() error {
		defer close(results)
		var off int64
		for off < wireLen {
			buf := bufpool.Get4MiB()
			want := int64(unit)
			if wireLen-off < want {
				want = wireLen - off
			}
			n := 0
			if off < srcLen {
				readWant := want
				if srcLen-off < readWant {
					readWant = srcLen - off
				}
				rn, err := src.ReadAt(buf[:readWant], srcOffset+off)
				if err != nil && err != io.EOF {
					bufpool.Put4MiB(buf)
					return xerr.Wrap(xerr.KindTransportIO, "firehose.writeOneProgram", err, "read source")
				}
				n = rn
			}
			for i := n; i < int(want); i++ {
				buf[i] = 0
			}
			select {
			case results <- filled{buf: buf, n: int(want)}:
			case <-gctx.Done():
				bufpool.Put4MiB(buf)
				return gctx.Err()
			}
			off += want
		}
		return nil
	})

	g.Go(func() error {
		for r := range results {
			_, err := e.t.Write(gctx, r.buf[:r.n])
			bufpool.Put4MiB(r.buf)
			if err != nil {
				return xerr.Wrap(xerr.KindTransportIO, "firehose.writeOneProgram", err, "write payload")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	_, err := e.readFinalACK(ctx)
	return err
}

// sendAndAwaitRawModeForWrite is sendAndAwaitRawMode specialized for the
// write path: any overflow bytes read past the rawmode announcement would
// be a protocol violation here (the device should not send payload before
// the host starts writing), so it is treated as an error rather than
// silently retained.
func (e *Engine) sendAndAwaitRawModeForWrite(ctx context.Context, dreq programRequest) error {
	overflow, err := e.sendAndAwaitRawMode(ctx, dreq)
	if err != nil {
		return err
	}
	if len(overflow) > 0 {
		return xerr.New(xerr.KindProtocolViolation, "firehose.sendAndAwaitRawModeForWrite", "unexpected data before host wrote payload")
	}
	return nil
}
