package sahara

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// Command-mode sub-command identifiers, sent as the 4-byte body of an
// Execute frame and echoed back as the leading field of ExecuteData/
// ExecuteResponse, per spec.md §4.6.
const (
	subCmdSerialNumber = 0x01
	subCmdHWIDv1v2     = 0x02
	subCmdOEMPKHash    = 0x03
	subCmdSBLVersion   = 0x07
	subCmdSBLInfo      = 0x06
	subCmdV3ChipInfo   = 0x0A
)

// ChipInfo is the assembled device identity produced by command-mode
// enumeration, per spec.md §4.6's "Chip-info assembly".
type ChipInfo struct {
	SerialHex string
	HWID      uint64
	PKHashHex string
	VendorName string

	// SBLVersion is populated when the device answered the v1/v2 MSM HW-ID
	// sub-command (0x02), via the paired SBL version sub-command (0x07).
	SBLVersion uint32
	// SBLInfoHex is populated when the device answered the v3 chip-info
	// sub-command (0x0A), via the paired SBL info sub-command (0x06).
	SBLInfoHex string
}

// runCommandMode enumerates serial number, OEM PK hash, and either v1/v2
// (MSM HW ID + SBL version) or v3 (chip info + SBL info) chip identity
// fields. It returns skip=true if the device rejects command mode by
// replying to the command-mode Hello-response with ReadData or
// EndImageTransfer instead of CommandReady, per spec.md §4.6.
func (e *Engine) runCommandMode(ctx context.Context) (skip bool, err error) {
	fr, err := e.readFrame(ctx)
	if err != nil {
		return false, err
	}
	if fr.cmd == cmdReadData || fr.cmd == cmdReadData64 || fr.cmd == cmdEndImageTransfer {
		return true, nil
	}
	if fr.cmd != cmdCommandReady {
		return false, xerr.Errorf(xerr.KindProtocolViolation, "sahara.runCommandMode", "expected CommandReady, got cmd %#x", fr.cmd)
	}
	e.wd.Feed()

	serial, err := e.executeSubCommand(ctx, subCmdSerialNumber)
	if err != nil {
		return false, err
	}
	if len(serial) >= 4 {
		e.ChipInfo.SerialHex = hex.EncodeToString(serial[0:4])
	}

	pkHash, err := e.executeSubCommand(ctx, subCmdOEMPKHash)
	if err != nil {
		return false, err
	}
	e.ChipInfo.PKHashHex = hex.EncodeToString(pkHash)

	hwid, err := e.assembleHWID(ctx)
	if err != nil {
		return false, err
	}
	e.ChipInfo.HWID = hwid

	if name, ok := e.chips.Lookup(uint32(hwid >> 32)); ok {
		e.ChipInfo.VendorName = name
	}
	return false, nil
}

// assembleHWID tries the v3 chip-info sub-command first, falling back to the
// v1/v2 MSM-HW-ID sub-command, per spec.md §4.6's packed-ID layout. Each path
// also issues its version-dependent SBL companion sub-command (0x06 for v3,
// 0x07 for v1/v2), storing the result on e.ChipInfo.
func (e *Engine) assembleHWID(ctx context.Context) (uint64, error) {
	v3, err := e.executeSubCommand(ctx, subCmdV3ChipInfo)
	if err == nil && len(v3) >= 48 {
		msmID := binary.LittleEndian.Uint32(v3[36:40])
		oemID := binary.LittleEndian.Uint32(v3[40:44])
		if oemID == 0 {
			oemID = binary.LittleEndian.Uint32(v3[44:48])
		}

		sblInfo, err := e.executeSubCommand(ctx, subCmdSBLInfo)
		if err != nil {
			return 0, err
		}
		e.ChipInfo.SBLInfoHex = hex.EncodeToString(sblInfo)

		return uint64(msmID)<<32 | uint64(oemID&0xFFFF)<<16, nil
	}

	v12, err := e.executeSubCommand(ctx, subCmdHWIDv1v2)
	if err != nil {
		return 0, err
	}
	if len(v12) < 4 {
		return 0, xerr.Errorf(xerr.KindProtocolViolation, "sahara.assembleHWID", "HWID response too short")
	}
	msmID := binary.LittleEndian.Uint32(v12[0:4])
	var oemID, modelID uint32
	if len(v12) >= 12 {
		oemID = binary.LittleEndian.Uint32(v12[4:8])
		modelID = binary.LittleEndian.Uint32(v12[8:12])
	}

	sblVersion, err := e.executeSubCommand(ctx, subCmdSBLVersion)
	if err != nil {
		return 0, err
	}
	if len(sblVersion) >= 4 {
		e.ChipInfo.SBLVersion = binary.LittleEndian.Uint32(sblVersion[0:4])
	}

	return uint64(msmID)<<32 | uint64(oemID&0xFFFF)<<16 | uint64(modelID&0xFFFF), nil
}

// executeSubCommand sends Execute(subCmd), reads ExecuteResponse for the
// data length, then sends ExecuteData to retrieve the payload.
func (e *Engine) executeSubCommand(ctx context.Context, subCmd uint32) ([]byte, error) {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body[0:4], subCmd)
	if err := e.writeFrame(ctx, cmdExecute, body); err != nil {
		return nil, err
	}

	resp, err := e.readFrame(ctx)
	if err != nil {
		return nil, err
	}
	if resp.cmd != cmdExecuteResponse || len(resp.body) < 8 {
		return nil, xerr.Errorf(xerr.KindProtocolViolation, "sahara.executeSubCommand", "unexpected ExecuteResponse for sub-command %#x", subCmd)
	}
	dataLen := binary.LittleEndian.Uint32(resp.body[4:8])

	if err := e.writeFrame(ctx, cmdExecuteData, body); err != nil {
		return nil, err
	}
	data, err := e.t.ReadExact(ctx, int(dataLen), 10*time.Second)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindTransportIO, "sahara.executeSubCommand", err, "read execute data")
	}
	return data, nil
}
