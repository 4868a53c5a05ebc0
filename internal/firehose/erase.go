package firehose

import "context"

// EraseRequest identifies the sectors to erase, per spec.md §4.7's erase
// directive. Filename/Label are only set by EraseVIP's strategy attempts.
type EraseRequest struct {
	PhysicalPartitionNumber int
	StartSector             string
	NumPartitionSectors     uint64
	Filename                string
	Label                   string
}

// Erase spans the partition described by req with a single <erase>
// directive. In VIP mode, callers should use EraseVIP instead, which
// iterates the masquerade strategy list until one ACKs.
func (e *Engine) Erase(ctx context.Context, req EraseRequest) error {
	dreq := eraseRequest{
		StartSector:             req.StartSector,
		NumPartitionSectors:     req.NumPartitionSectors,
		PhysicalPartitionNumber: req.PhysicalPartitionNumber,
		Filename:                req.Filename,
		Label:                   req.Label,
	}
	_, err := e.sendCommand(ctx, dreq)
	return err
}
