package firehose

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/gpt"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/transport"
)

func xmlHeader() string { return `<?xml version="1.0" encoding="UTF-8" ?>` }

func configureResponse(sectorSize, maxPayload int) []byte {
	return []byte(xmlHeader() + `<data><response value="ACK" SectorSizeInBytes="` +
		itoa(sectorSize) + `" MaxPayloadSizeToTargetInBytes="` + itoa(maxPayload) + `"/></data>`)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func newTestEngine(t *testing.T) (*Engine, *transport.FakeTransport) {
	t.Helper()
	ft := transport.NewFake()
	e := New(ft, DefaultOptions())
	return e, ft
}

func TestConfigureNegotiatesSession(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.Feed(configureResponse(4096, 1<<20))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := e.Configure(ctx, "UFS")
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if sess.SectorSizeBytes != 4096 || sess.MaxPayloadSizeBytes != 1<<20 {
		t.Errorf("session = %+v, want sector=4096 payload=%d", sess, 1<<20)
	}

	written := ft.Written()
	if !bytes.Contains(written, []byte("<configure ")) {
		t.Errorf("expected a <configure> directive on the wire, got %q", written)
	}
}

// TestReadPartitionSingleChunk exercises spec.md §8 scenario 4's framing
// shape: a rawmode response whose </data> closes before the raw payload
// itself, followed immediately by the payload bytes and a final ACK.
func TestReadPartitionSingleChunk(t *testing.T) {
	e, ft := newTestEngine(t)
	e.session = Session{SectorSizeBytes: 512, MaxPayloadSizeBytes: 1 << 20}

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	announce := []byte(xmlHeader() + `<data><response value="ACK" rawmode="true"/></data>`)
	final := []byte(xmlHeader() + `<data><response value="ACK"/></data>`)

	ft.Feed(append(append([]byte{}, announce...), payload...))
	ft.Feed(final)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out bytes.Buffer
	n, err := e.ReadPartition(ctx, ReadRequest{
		PhysicalPartitionNumber: 0,
		StartSector:             "1000",
		NumPartitionSectors:     8,
	}, &out)
	if err != nil {
		t.Fatalf("ReadPartition failed: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("read %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Errorf("payload mismatch")
	}
}

func TestWritePartitionPadsToSector(t *testing.T) {
	e, ft := newTestEngine(t)
	e.session = Session{SectorSizeBytes: 512, MaxPayloadSizeBytes: 1 << 20}

	announce := []byte(xmlHeader() + `<data><response value="ACK" rawmode="true"/></data>`)
	final := []byte(xmlHeader() + `<data><response value="ACK"/></data>`)
	ft.Feed(announce)
	ft.Feed(final)

	src := []byte("not a full sector")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := e.WritePartition(ctx, WriteRequest{
		PhysicalPartitionNumber: 0,
		StartSector:             "2000",
		Filename:                "boot.img",
		Label:                   "boot",
	}, bytes.NewReader(src), int64(len(src)))
	if err != nil {
		t.Fatalf("WritePartition failed: %v", err)
	}

	written := ft.Written()
	if !bytes.Contains(written, []byte("<program ")) {
		t.Fatalf("expected a <program> directive on the wire, got %q", written)
	}
	dataStart := bytes.Index(written, []byte("</data>")) + len("</data>")
	payload := written[dataStart:]
	if len(payload) != 512 {
		t.Fatalf("payload length = %d, want 512 (padded)", len(payload))
	}
	if !bytes.Equal(payload[:len(src)], src) {
		t.Errorf("payload head = %q, want %q", payload[:len(src)], src)
	}
	for _, b := range payload[len(src):] {
		if b != 0 {
			t.Fatalf("padding byte = %#x, want 0", b)
		}
	}
}

func TestChunkCountMath(t *testing.T) {
	cases := []struct {
		total, chunk int64
		want         int
	}{
		{0, 100, 0},
		{100, 100, 1},
		{101, 100, 2},
		{250, 100, 3},
	}
	for _, c := range cases {
		if got := chunkCount(c.total, c.chunk); got != c.want {
			t.Errorf("chunkCount(%d, %d) = %d, want %d", c.total, c.chunk, got, c.want)
		}
	}
}

func TestPadToSector(t *testing.T) {
	cases := []struct{ n, sector, want int64 }{
		{0, 512, 0},
		{1, 512, 512},
		{512, 512, 512},
		{513, 512, 1024},
	}
	for _, c := range cases {
		if got := padToSector(c.n, c.sector); got != c.want {
			t.Errorf("padToSector(%d, %d) = %d, want %d", c.n, c.sector, got, c.want)
		}
	}
}

func TestClassifyNAK(t *testing.T) {
	cases := []struct {
		msg  string
		want NAKClass
	}{
		{"Authentication failed for image", NAKAuthentication},
		{"invalid signature on hash table", NAKSignature},
		{"partition not found in GPT", NAKPartitionNotFound},
		{"invalid LUN specified", NAKInvalidLUN},
		{"device is write protected", NAKWriteProtect},
		{"operation timed out", NAKTimeout},
		{"device busy, retry", NAKBusy},
		{"something unexpected happened", NAKGeneric},
	}
	for _, c := range cases {
		err := classifyNAK(c.msg)
		class, ok := ClassOf(err)
		if !ok {
			t.Fatalf("ClassOf(%q) not ok", c.msg)
		}
		if class != c.want {
			t.Errorf("classifyNAK(%q) class = %s, want %s", c.msg, class, c.want)
		}
	}
}

func TestNAKClassFatalRetryable(t *testing.T) {
	if !NAKSignature.Fatal() {
		t.Error("signature NAK should be fatal")
	}
	if NAKTimeout.Fatal() {
		t.Error("timeout NAK should not be fatal")
	}
	if !NAKTimeout.Retryable() {
		t.Error("timeout NAK should be retryable")
	}
	if NAKSignature.Retryable() {
		t.Error("signature NAK should not be retryable")
	}
}

func TestVIPStrategiesGPTSectorOrdering(t *testing.T) {
	strategies := vipStrategies(true, 1, 0, "boot_a")
	if len(strategies) != 2 {
		t.Fatalf("GPT-sector strategies = %d, want 2", len(strategies))
	}
	if strategies[0].Label != "BackupGPT" || strategies[1].Label != "PrimaryGPT" {
		t.Errorf("unexpected GPT strategy order: %+v", strategies)
	}
}

func TestVIPStrategiesGenericOrdering(t *testing.T) {
	strategies := vipStrategies(false, 10000, 0, "my/weird name!")
	if len(strategies) != 6 {
		t.Fatalf("generic strategies = %d, want 6", len(strategies))
	}
	if strategies[0].Label != "BackupGPT" {
		t.Errorf("first generic strategy = %+v, want BackupGPT", strategies[0])
	}
	sanitized := strategies[1].Filename
	if bytes.ContainsAny([]byte(sanitized), "/ !") {
		t.Errorf("sanitized partition name still has unsafe characters: %q", sanitized)
	}
	last := strategies[len(strategies)-1]
	if last.Label != "" {
		t.Errorf("last-resort strategy should carry no label, got %+v", last)
	}
}

// TestSetActiveSlotFallsBackToPatch exercises spec.md §8 scenario 5: a
// device that NAKs setactiveslot gets patched via the core A/B set instead.
func TestSetActiveSlotFallsBackToPatch(t *testing.T) {
	e, ft := newTestEngine(t)
	e.session = Session{SectorSizeBytes: 512, MaxPayloadSizeBytes: 1 << 20}

	nak := []byte(xmlHeader() + `<data><response value="NAK" error="command not supported"/></data>`)
	ack := []byte(xmlHeader() + `<data><response value="ACK"/></data>`)
	ft.Feed(nak) // setactiveslot rejected
	ft.Feed(ack) // patch boot_b (new active)
	ft.Feed(ack) // patch boot_a (demoted)
	ft.Feed(ack) // fixgpt

	header := gpt.Header{PartitionEntryLBA: 2, SectorSize: 512}
	bootA := gpt.Partition{
		Name: "boot_a", EntryIndex: 0, SectorSize: 512,
		TypeGUID: uuid.New(), UniqueGUID: uuid.New(),
		Attributes: gpt.SetFlags(0, true, 3, true, false),
	}
	bootB := gpt.Partition{
		Name: "boot_b", EntryIndex: 1, SectorSize: 512,
		TypeGUID: uuid.New(), UniqueGUID: uuid.New(),
		Attributes: gpt.SetFlags(0, false, 1, false, false),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := e.SetActiveSlot(ctx, header, []gpt.Partition{bootA, bootB}, gpt.SlotB, 0)
	if err != nil {
		t.Fatalf("SetActiveSlot failed: %v", err)
	}

	written := ft.Written()
	if bytes.Count(written, []byte("<patch ")) != 2 {
		t.Errorf("expected 2 <patch> directives, got wire %q", written)
	}
	if !bytes.Contains(written, []byte("<fixgpt ")) {
		t.Errorf("expected a trailing <fixgpt> directive, got %q", written)
	}
}

func TestSplitABSuffix(t *testing.T) {
	base, isA, isB := splitABSuffix("boot_a")
	if base != "boot" || !isA || isB {
		t.Errorf("splitABSuffix(boot_a) = (%q, %v, %v)", base, isA, isB)
	}
	base, isA, isB = splitABSuffix("boot_b")
	if base != "boot" || isA || !isB {
		t.Errorf("splitABSuffix(boot_b) = (%q, %v, %v)", base, isA, isB)
	}
	base, isA, isB = splitABSuffix("persist")
	if base != "persist" || isA || isB {
		t.Errorf("splitABSuffix(persist) = (%q, %v, %v)", base, isA, isB)
	}
}
