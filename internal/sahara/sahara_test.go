package sahara

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/chipdb"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/transport"
)

func frameBytes(cmd uint32, body []byte) []byte {
	buf := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], cmd)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)))
	copy(buf[8:], body)
	return buf
}

func readFrameFromWire(t *testing.T, wire []byte, pos int) (cmd uint32, body []byte, next int) {
	t.Helper()
	if pos+8 > len(wire) {
		t.Fatalf("wire exhausted at pos %d (len %d)", pos, len(wire))
	}
	cmd = binary.LittleEndian.Uint32(wire[pos : pos+4])
	length := binary.LittleEndian.Uint32(wire[pos+4 : pos+8])
	body = wire[pos+8 : pos+int(length)]
	return cmd, body, pos + int(length)
}

// TestHandshakeAndUploadLoop drives a full WaitHello -> UploadInProgress ->
// TransferEnded -> DoneAcked session without command mode, serving a small
// in-memory loader via ReadData.
func TestHandshakeAndUploadLoop(t *testing.T) {
	loader := []byte("this is a fake programmer image payload")
	ft := transport.NewFake()

	helloBody := make([]byte, 8)
	binary.LittleEndian.PutUint32(helloBody[4:8], modeImageTransferPending)
	ft.Feed(frameBytes(cmdHello, helloBody))

	readBody := make([]byte, 12)
	binary.LittleEndian.PutUint32(readBody[0:4], 0)
	binary.LittleEndian.PutUint32(readBody[4:8], 0)
	binary.LittleEndian.PutUint32(readBody[8:12], uint32(len(loader)))
	ft.Feed(frameBytes(cmdReadData, readBody))

	endBody := make([]byte, 8)
	binary.LittleEndian.PutUint32(endBody[4:8], statusSuccess)
	ft.Feed(frameBytes(cmdEndImageTransfer, endBody))

	ft.Feed(frameBytes(cmdDoneResponse, nil))

	e := New(ft, loader, chipdb.NewStatic())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if e.state != StateDoneAcked {
		t.Errorf("final state = %s, want DoneAcked", e.state)
	}

	wire := ft.Written()
	cmd, body, pos := readFrameFromWire(t, wire, 0)
	if cmd != cmdHelloResponse {
		t.Fatalf("first outbound frame cmd = %#x, want HelloResponse", cmd)
	}
	if len(body) < 12 {
		t.Fatalf("HelloResponse body too short: %d", len(body))
	}

	var loaderChunk []byte
	if pos < len(wire) {
		loaderChunk = wire[pos : pos+len(loader)]
		pos += len(loader)
	}
	if !bytes.Equal(loaderChunk, loader) {
		t.Errorf("served loader chunk = %q, want %q", loaderChunk, loader)
	}

	cmd, _, pos = readFrameFromWire(t, wire, pos)
	if cmd != cmdDone {
		t.Errorf("final outbound frame cmd = %#x, want Done", cmd)
	}
	_ = pos
}

func TestServeReadDataRejectsOutOfBounds(t *testing.T) {
	ft := transport.NewFake()
	e := New(ft, []byte("short"), chipdb.NewStatic())
	e.wd = newWatchdog(time.Minute, 3)

	body := make([]byte, 12)
	binary.LittleEndian.PutUint32(body[4:8], 0)
	binary.LittleEndian.PutUint32(body[8:12], 100) // far beyond loader length

	ctx := context.Background()
	if err := e.serveReadData(ctx, body, false); err == nil {
		t.Fatal("serveReadData should reject an out-of-bounds request")
	}
}

func TestIsFatalEndStatus(t *testing.T) {
	for _, s := range []uint32{statusFatalInvalidSignature1, statusFatalInvalidSignature2, statusFatalInvalidSignature3} {
		if !isFatalEndStatus(s) {
			t.Errorf("status %#x should be fatal", s)
		}
	}
	if isFatalEndStatus(statusSuccess) {
		t.Error("statusSuccess should not be fatal")
	}
}

// TestRunCommandModeSkipsWhenDeviceRejects exercises spec.md §4.6's rule:
// a device that answers the command-mode Hello-response with ReadData
// instead of CommandReady has rejected command mode for the session.
func TestRunCommandModeSkipsWhenDeviceRejects(t *testing.T) {
	ft := transport.NewFake()
	e := New(ft, []byte("loader"), chipdb.NewStatic())
	e.wd = newWatchdog(time.Minute, 3)

	readBody := make([]byte, 12)
	binary.LittleEndian.PutUint32(readBody[8:12], 0)
	ft.Feed(frameBytes(cmdReadData, readBody))

	skip, err := e.runCommandMode(context.Background())
	if err != nil {
		t.Fatalf("runCommandMode failed: %v", err)
	}
	if !skip {
		t.Error("runCommandMode should report skip=true when the device rejects command mode")
	}
}
