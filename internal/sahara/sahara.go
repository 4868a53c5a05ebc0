// Package sahara implements the Sahara protocol state machine: the
// handshake, loader-upload loop, optional command-mode chip-identity
// enumeration, and watchdog supervision used to bring a Qualcomm EDL device
// up to the point where FirehoseEngine can take over.
package sahara

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/chipdb"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/transport"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/xlog"
)

// frameReadTimeout bounds each readFrame ReadExact call. It is deliberately
// much shorter than the watchdog's stall window (see newWatchdog in Run) so
// the read loop can keep polling the watchdog event channel between frames;
// a timeout here is not itself fatal, see Run's readFrame error handling.
const frameReadTimeout = 10 * time.Second

// ErrWatchdogHardReset is the cause wrapped into the error Run returns when
// the watchdog gives up on the device after repeated stalls, per spec.md
// §4.6/§7. RunWithRetry checks for it with errors.Is to grant the bounded
// "one extra attempt" the spec calls for.
var ErrWatchdogHardReset = errors.New("sahara: watchdog exceeded stall threshold")

// Command identifiers observed in the 4-byte little-endian cmd field of
// every Sahara frame, per spec.md §4.6.
const (
	cmdHello             = 0x01
	cmdHelloResponse     = 0x02
	cmdReadData          = 0x03
	cmdEndImageTransfer  = 0x04
	cmdDone              = 0x05
	cmdDoneResponse      = 0x06
	cmdReset             = 0x07
	cmdResetResponse     = 0x08
	cmdCommandReady      = 0x0B
	cmdSwitchMode        = 0x0C
	cmdExecute           = 0x0D
	cmdExecuteData       = 0x0E
	cmdExecuteResponse   = 0x0F
	cmdReadData64        = 0x12
	cmdResetStateMachine = 0x13
)

// Hello-carried device mode values.
const (
	modeImageTransferPending = 0x00
	modeImageTransferComplete = 0x01
	modeMemoryDebug           = 0x02
	modeCommand               = 0x03
)

// EndImageTransfer status codes. 0x21-0x23 are fatal signature-verification
// diagnostics per spec.md §4.6.
const (
	statusSuccess                  = 0x00
	statusFatalInvalidSignature1   = 0x21
	statusFatalInvalidSignature2   = 0x22
	statusFatalInvalidSignature3   = 0x23
)

// State is one node of the Sahara session state machine.
type State int

const (
	StateWaitHello State = iota
	StateProbeCommand
	StateUploadInProgress
	StateTransferEnded
	StateDoneAcked
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateWaitHello:
		return "WaitHello"
	case StateProbeCommand:
		return "ProbeCommand"
	case StateUploadInProgress:
		return "UploadInProgress"
	case StateTransferEnded:
		return "TransferEnded"
	case StateDoneAcked:
		return "DoneAcked"
	case StateFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// frame is a parsed (cmd, len, body) Sahara packet.
type frame struct {
	cmd  uint32
	body []byte
}

const frameHeaderSize = 8

// ProgressFunc reports cumulative bytes served against loader length.
type ProgressFunc func(served, total int64)

// Engine drives one Sahara session over a Transport to deliver a
// bootloader/programmer image and, optionally, enumerate chip identity.
type Engine struct {
	t        transport.Transport
	chips    chipdb.Lookup
	log      *logrus.Entry
	progress ProgressFunc

	state State
	wd    *watchdog

	loader []byte

	ChipInfo ChipInfo
}

// New creates an Engine that will serve loader from memory once the
// handshake completes. chips resolves hardware IDs to vendor names for
// ChipInfo assembly; pass chipdb.NewStatic() for the built-in table.
func New(t transport.Transport, loader []byte, chips chipdb.Lookup) *Engine {
	return &Engine{
		t:      t,
		chips:  chips,
		log:    xlog.For("sahara"),
		state:  StateWaitHello,
		loader: loader,
	}
}

// SetProgress installs a callback invoked after each served ReadData chunk.
func (e *Engine) SetProgress(fn ProgressFunc) { e.progress = fn }

// Run drives the handshake and upload loop to completion, returning once the
// device has ACKed Done (success) or the state machine reaches Fatal.
func (e *Engine) Run(ctx context.Context) error {
	e.wd = newWatchdog(45*time.Second, 3)
	wdEvents := e.wd.Start(ctx)
	defer e.wd.Stop()

	commandModeTried := false
	for {
		select {
		case ev := <-wdEvents:
			if err := e.handleWatchdogEvent(ctx, ev); err != nil {
				e.state = StateFatal
				return err
			}
			continue
		default:
		}

		fr, err := e.readFrame(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			e.state = StateFatal
			return err
		}
		e.wd.Feed()

		switch e.state {
		case StateWaitHello:
			if fr.cmd != cmdHello {
				e.state = StateFatal
				return xerr.Errorf(xerr.KindProtocolViolation, "sahara.Run", "expected Hello, got cmd %#x", fr.cmd)
			}
			mode := parseHelloMode(fr.body)
			if err := e.sendHelloResponse(ctx, modeImageTransferPending); err != nil {
				e.state = StateFatal
				return err
			}
			if mode == modeCommand && !commandModeTried {
				commandModeTried = true
				e.state = StateProbeCommand
			} else {
				e.state = StateUploadInProgress
			}

		case StateProbeCommand:
			skip, err := e.runCommandMode(ctx)
			if err != nil {
				e.state = StateFatal
				return err
			}
			if skip {
				e.state = StateUploadInProgress
				continue
			}
			if err := e.sendSwitchMode(ctx, modeImageTransferPending); err != nil {
				e.state = StateFatal
				return err
			}
			e.state = StateWaitHello

		case StateUploadInProgress:
			switch fr.cmd {
			case cmdReadData:
				if err := e.serveReadData(ctx, fr.body, false); err != nil {
					e.state = StateFatal
					return err
				}
			case cmdReadData64:
				if err := e.serveReadData(ctx, fr.body, true); err != nil {
					e.state = StateFatal
					return err
				}
			case cmdEndImageTransfer:
				status := binary.LittleEndian.Uint32(fr.body[4:8])
				if isFatalEndStatus(status) {
					e.state = StateFatal
					return xerr.Errorf(xerr.KindDeviceFatal, "sahara.Run", "EndImageTransfer fatal status %#x", status)
				}
				if status != statusSuccess {
					e.state = StateFatal
					return xerr.Errorf(xerr.KindDeviceNak, "sahara.Run", "EndImageTransfer status %#x", status)
				}
				if err := e.sendDone(ctx); err != nil {
					e.state = StateFatal
					return err
				}
				e.state = StateTransferEnded
			default:
				e.state = StateFatal
				return xerr.Errorf(xerr.KindProtocolViolation, "sahara.Run", "unexpected cmd %#x in UploadInProgress", fr.cmd)
			}

		case StateTransferEnded:
			if fr.cmd != cmdDoneResponse {
				e.state = StateFatal
				return xerr.Errorf(xerr.KindProtocolViolation, "sahara.Run", "expected DoneResponse, got cmd %#x", fr.cmd)
			}
			e.state = StateDoneAcked
			return nil

		default:
			return xerr.Errorf(xerr.KindProtocolViolation, "sahara.Run", "unreachable state %s", e.state)
		}
	}
}

// RunWithRetry drives Run, retrying the whole handshake from WaitHello up to
// maxAttempts times on failure, per spec.md §4.6/§7 ("the outer driver may
// retry the whole handshake up to a small bounded number of times"; "Sahara
// outer loop retries with reset"). A failure caused by the watchdog's hard
// reset earns exactly one bonus attempt beyond maxAttempts ("watchdog-
// triggered resets add one extra attempt"), granted at most once per call.
func (e *Engine) RunWithRetry(ctx context.Context, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	budget := maxAttempts
	grantedBonus := false
	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		e.state = StateWaitHello
		e.ChipInfo = ChipInfo{}
		_ = e.t.DiscardIn()

		err := e.Run(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}
		if !grantedBonus && errors.Is(err, ErrWatchdogHardReset) {
			budget++
			grantedBonus = true
		}
		e.log.WithError(lastErr).Warnf("sahara handshake attempt %d/%d failed, retrying", attempt, budget)
	}
	return lastErr
}

func isFatalEndStatus(status uint32) bool {
	switch status {
	case statusFatalInvalidSignature1, statusFatalInvalidSignature2, statusFatalInvalidSignature3:
		return true
	default:
		return false
	}
}

func parseHelloMode(body []byte) uint32 {
	if len(body) < 8 {
		return modeImageTransferPending
	}
	return binary.LittleEndian.Uint32(body[4:8])
}

// readFrame reads the 8-byte (cmd, len) header then the remaining body.
func (e *Engine) readFrame(ctx context.Context) (frame, error) {
	hdr, err := e.t.ReadExact(ctx, frameHeaderSize, frameReadTimeout)
	if err != nil {
		return frame{}, xerr.Wrap(xerr.KindTransportIO, "sahara.readFrame", err, "read header")
	}
	cmd := binary.LittleEndian.Uint32(hdr[0:4])
	length := binary.LittleEndian.Uint32(hdr[4:8])
	if length < frameHeaderSize {
		return frame{}, xerr.Errorf(xerr.KindProtocolViolation, "sahara.readFrame", "frame length %d shorter than header", length)
	}
	bodyLen := int(length) - frameHeaderSize
	var body []byte
	if bodyLen > 0 {
		body, err = e.t.ReadExact(ctx, bodyLen, frameReadTimeout)
		if err != nil {
			return frame{}, xerr.Wrap(xerr.KindTransportIO, "sahara.readFrame", err, "read body")
		}
	}
	return frame{cmd: cmd, body: body}, nil
}

func (e *Engine) writeFrame(ctx context.Context, cmd uint32, body []byte) error {
	buf := make([]byte, frameHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], cmd)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)))
	copy(buf[frameHeaderSize:], body)
	if _, err := e.t.Write(ctx, buf); err != nil {
		return xerr.Wrap(xerr.KindTransportIO, "sahara.writeFrame", err, "write frame")
	}
	return nil
}

func (e *Engine) sendHelloResponse(ctx context.Context, mode uint32) error {
	body := make([]byte, 40)
	binary.LittleEndian.PutUint32(body[0:4], 2) // version
	binary.LittleEndian.PutUint32(body[4:8], 1) // min version
	binary.LittleEndian.PutUint32(body[8:12], mode)
	return e.writeFrame(ctx, cmdHelloResponse, body)
}

func (e *Engine) sendSwitchMode(ctx context.Context, mode uint32) error {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body[0:4], mode)
	return e.writeFrame(ctx, cmdSwitchMode, body)
}

func (e *Engine) sendDone(ctx context.Context) error {
	return e.writeFrame(ctx, cmdDone, nil)
}

// serveReadData serves one ReadData/ReadData64 request from e.loader,
// bounds-checked against the loader's length, per spec.md §4.6.
func (e *Engine) serveReadData(ctx context.Context, body []byte, wide bool) error {
	var imageID uint32
	var offset, length uint64
	if wide {
		if len(body) < 24 {
			return xerr.Errorf(xerr.KindProtocolViolation, "sahara.serveReadData", "ReadData64 body too short")
		}
		imageID = uint32(binary.LittleEndian.Uint64(body[0:8]))
		offset = binary.LittleEndian.Uint64(body[8:16])
		length = binary.LittleEndian.Uint64(body[16:24])
	} else {
		if len(body) < 12 {
			return xerr.Errorf(xerr.KindProtocolViolation, "sahara.serveReadData", "ReadData body too short")
		}
		imageID = binary.LittleEndian.Uint32(body[0:4])
		offset = uint64(binary.LittleEndian.Uint32(body[4:8]))
		length = uint64(binary.LittleEndian.Uint32(body[8:12]))
	}
	_ = imageID // single in-memory image; imageID is accepted but not branched on

	if offset > uint64(len(e.loader)) || offset+length > uint64(len(e.loader)) {
		return xerr.Errorf(xerr.KindProtocolViolation, "sahara.serveReadData", "out-of-bounds read: offset=%d length=%d loader=%d", offset, length, len(e.loader))
	}
	chunk := e.loader[offset : offset+length]
	if _, err := e.t.Write(ctx, chunk); err != nil {
		return xerr.Wrap(xerr.KindTransportIO, "sahara.serveReadData", err, "write loader chunk")
	}
	if e.progress != nil {
		e.progress(int64(offset+length), int64(len(e.loader)))
	}
	return nil
}

func (e *Engine) handleWatchdogEvent(ctx context.Context, ev watchdogEvent) error {
	switch ev {
	case watchdogSoftReset:
		e.log.Warn("watchdog: stalled, sending ResetStateMachine")
		return e.writeFrame(ctx, cmdResetStateMachine, nil)
	case watchdogHardReset:
		return xerr.Wrap(xerr.KindDeviceFatal, "sahara.handleWatchdogEvent", ErrWatchdogHardReset, "hard reset required")
	default:
		return nil
	}
}
