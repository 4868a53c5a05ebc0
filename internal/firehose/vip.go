package firehose

import (
	"context"
	"io"
	"regexp"
	"time"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// vipInterAttemptDelay is the short pause between masquerade attempts, per
// spec.md §4.7's "VIP (masquerade) mode".
const vipInterAttemptDelay = 150 * time.Millisecond

// VIPStrategy is one (filename, label) candidate the engine tries against a
// locked device that only accepts reads/writes matching an expected name.
type VIPStrategy struct {
	Filename string
	Label    string
}

var sanitizeVIPName = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

func sanitizePartitionName(name string) string {
	return sanitizeVIPName.ReplaceAllString(name, "_")
}

// gptSectorThreshold is the start-sector bound spec.md §4.7 uses to decide
// whether a request targets GPT sectors ("start_sector <= 33 or flagged").
const gptSectorThreshold = 33

// vipStrategies builds the priority-ordered masquerade list for a request,
// per spec.md §4.7. isGPTSector is true when the caller already knows the
// request targets the GPT header/entries (the "or flagged" half of the
// rule); otherwise it is derived from startSector.
func vipStrategies(isGPTSector bool, startSector int64, lun int, partitionName string) []VIPStrategy {
	if isGPTSector || (startSector >= 0 && startSector <= gptSectorThreshold) {
		return []VIPStrategy{
			{Filename: gptBackupFilename(lun), Label: "BackupGPT"},
			{Filename: gptMainFilename(lun), Label: "PrimaryGPT"},
		}
	}

	sanitized := sanitizePartitionName(partitionName)
	return []VIPStrategy{
		{Filename: gptBackupFilename(0), Label: "BackupGPT"},
		{Filename: sanitized, Label: sanitized},
		{Filename: "ssd", Label: "ssd"},
		{Filename: gptMainFilename(0), Label: ""},
		{Filename: "buffer.bin", Label: "buffer"},
		{Filename: sanitized, Label: ""},
	}
}

func gptBackupFilename(lun int) string {
	return "gpt_backup" + formatAbsoluteSector(uint64(lun)) + ".bin"
}

func gptMainFilename(lun int) string {
	return "gpt_main" + formatAbsoluteSector(uint64(lun)) + ".bin"
}

// WriteVIP attempts WritePartition once per VIP strategy until one produces
// a rawmode="true" announcement, per spec.md §4.7's "first strategy to
// produce rawmode (writes) ... wins".
func (e *Engine) WriteVIP(ctx context.Context, base WriteRequest, isGPTSector bool, lun int, partitionName string, src io.ReaderAt, size int64) error {
	startSector := parseStartSectorSpec(base.StartSector)
	strategies := vipStrategies(isGPTSector, startSector.base, lun, partitionName)

	var lastErr error
	for _, s := range strategies {
		if ctx.Err() != nil {
			return xerr.Wrap(xerr.KindCancelled, "firehose.WriteVIP", ctx.Err(), "cancelled")
		}
		req := base
		req.Filename = s.Filename
		req.Label = s.Label
		err := e.WritePartition(ctx, req, src, size)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(vipInterAttemptDelay)
	}
	return xerr.Wrap(xerr.KindDeviceNak, "firehose.WriteVIP", lastErr, "no VIP strategy was accepted")
}

// EraseVIP attempts Erase once per VIP strategy until one ACKs, per
// spec.md §4.7's masquerade rule for erase.
func (e *Engine) EraseVIP(ctx context.Context, base EraseRequest, isGPTSector bool, lun int, partitionName string) error {
	startSector := parseStartSectorSpec(base.StartSector)
	strategies := vipStrategies(isGPTSector, startSector.base, lun, partitionName)

	var lastErr error
	for _, s := range strategies {
		if ctx.Err() != nil {
			return xerr.Wrap(xerr.KindCancelled, "firehose.EraseVIP", ctx.Err(), "cancelled")
		}
		req := base
		req.Filename = s.Filename
		req.Label = s.Label
		err := e.Erase(ctx, req)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(vipInterAttemptDelay)
	}
	return xerr.Wrap(xerr.KindDeviceNak, "firehose.EraseVIP", lastErr, "no VIP strategy was accepted")
}

// ReadVIP issues the read directive and reports whether it produced a
// non-empty payload. Unlike the write and erase directives, Firehose's read
// directive carries no filename/label attribute — a locked device's
// masquerade requirement is expressed entirely through
// physical_partition_number/start_sector, which the caller (typically
// resolved from a VIPStrategy's implied GPT convention) already supplies in
// base. This exists alongside WriteVIP/EraseVIP for a uniform call shape at
// the orchestration layer, per spec.md §4.7's "first strategy ... to
// receive a non-empty data payload (reads) wins".
func (e *Engine) ReadVIP(ctx context.Context, base ReadRequest, w io.Writer) (int64, error) {
	n, err := e.ReadPartition(ctx, base, w)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, xerr.New(xerr.KindDeviceNak, "firehose.ReadVIP", "read produced no data")
	}
	return n, nil
}
