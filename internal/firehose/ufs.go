package firehose

import (
	"context"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// UFSGlobalConfig is the device-wide attribute set sent once at the start
// of UFS provisioning, per spec.md §4.7.
type UFSGlobalConfig struct {
	NumberLU           int
	BootEnable         int
	DescrAccessEnabled int
	InitPowerMode      int
	HighPriorityLUN    int
	SecureRemovalType  int
	InitActiveICCLevel int
	PeriodicRTCUpdate  int
}

// UFSLUNConfig describes one LUN's provisioning attributes.
type UFSLUNConfig struct {
	LUN             int
	Enable          int
	BootLunID       int
	SizeInKB        int64
	WriteProtect    int
}

// Provision runs the three-phase UFS provisioning sequence: one global
// attributes directive, one per-LUN directive, and a final commit, per
// spec.md §4.7's "UFS provisioning". It is a no-op returning an error
// unless Options.EnableProvision is set, since this sequence is dangerous
// and potentially one-time.
func (e *Engine) Provision(ctx context.Context, global UFSGlobalConfig, luns []UFSLUNConfig) error {
	if !e.opts.EnableProvision {
		return xerr.New(xerr.KindProtocolViolation, "firehose.Provision", "UFS provisioning is disabled (Options.EnableProvision=false)")
	}

	globalReq := ufsGlobalRequest{
		BNumberLU:           global.NumberLU,
		BBootEnable:         global.BootEnable,
		BDescrAccessEn:      global.DescrAccessEnabled,
		BInitPowerMode:      global.InitPowerMode,
		BHighPriorityLUN:    global.HighPriorityLUN,
		BSecureRemovalType:  global.SecureRemovalType,
		BInitActiveICCLevel: global.InitActiveICCLevel,
		WPeriodicRTCUpdate:  global.PeriodicRTCUpdate,
	}
	if _, err := e.sendCommand(ctx, globalReq); err != nil {
		return xerr.Wrap(xerr.KindTransportIO, "firehose.Provision", err, "global attributes")
	}

	for _, l := range luns {
		lunReq := ufsLUNRequest{
			LUN:             l.LUN,
			BLUEnable:       l.Enable,
			BootLunID:       l.BootLunID,
			SizeInKB:        l.SizeInKB,
			BLUWriteProtect: l.WriteProtect,
		}
		if _, err := e.sendCommand(ctx, lunReq); err != nil {
			return xerr.Wrapf(xerr.KindTransportIO, "firehose.Provision", err, "LUN %d attributes", l.LUN)
		}
	}

	if _, err := e.sendCommand(ctx, ufsCommitRequest{Commit: "true"}); err != nil {
		return xerr.Wrap(xerr.KindTransportIO, "firehose.Provision", err, "commit")
	}
	return nil
}
