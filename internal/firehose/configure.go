package firehose

import (
	"context"
)

// defaultMaxPayload is the 16 MiB default requested payload from spec.md
// §4.7's Configure.
const defaultMaxPayload = 16 << 20

// minPayloadClamp and maxPayloadClamp bound the negotiated max payload, per
// spec.md §3's FirehoseConfig invariant ("clamped to [64 KiB, 16 MiB]").
const (
	minPayloadClamp = 64 << 10
	maxPayloadClamp = 16 << 20
)

// defaultSectorSize returns the storage-type default sector size assumed
// prior to the device's response overriding it, per spec.md §3 ("UFS
// defaults to 4096, eMMC to 512, overridden by device response").
func defaultSectorSize(storage StorageType) int {
	if storage == StorageUFS {
		return 4096
	}
	return 512
}

func clampPayload(n int) int {
	if n < minPayloadClamp {
		return minPayloadClamp
	}
	if n > maxPayloadClamp {
		return maxPayloadClamp
	}
	return n
}

// Configure sends the first Firehose command after Sahara: MemoryName, a
// requested max payload, AckRawDataEveryNumPackets=0, ZlpAwareHost=1. The
// device's response negotiates the effective sector size and payload cap.
func (e *Engine) Configure(ctx context.Context, memoryName string) (Session, error) {
	requested := e.opts.RequestedPayloadBytes
	if requested <= 0 {
		requested = defaultMaxPayload
	}

	req := configureRequest{
		MemoryName:                    memoryName,
		MaxPayloadSizeToTargetInBytes: requested,
		AckRawDataEveryNumPackets:     0,
		ZlpAwareHost:                  1,
	}
	resp, err := e.sendCommand(ctx, req)
	if err != nil {
		return Session{}, err
	}

	sectorSize := resp.SectorSizeInBytes
	if sectorSize <= 0 {
		sectorSize = defaultSectorSize(e.opts.StorageType)
	}
	maxPayloadBytes := resp.MaxPayloadSizeToTargetInBytes
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = requested
	}
	maxPayloadBytes = clampPayload(maxPayloadBytes)

	e.session = Session{
		SectorSizeBytes:     sectorSize,
		MaxPayloadSizeBytes: maxPayloadBytes,
		MemoryName:          memoryName,
	}
	e.log.WithFields(map[string]interface{}{
		"sector_size": e.session.SectorSizeBytes,
		"max_payload": e.session.MaxPayloadSizeBytes,
	}).Info("firehose configured")
	return e.session, nil
}
