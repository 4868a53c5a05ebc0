package sparse

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// buildImage assembles an in-memory sparse image byte stream from a header
// and chunk specs, for use as a test fixture.
type chunkSpec struct {
	typ     ChunkType
	blocks  uint32
	payload []byte
}

func buildImage(t *testing.T, blockSize, totalBlocks uint32, specs []chunkSpec) []byte {
	t.Helper()
	var buf bytes.Buffer
	var totalChunks uint32 = uint32(len(specs))

	hdr := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint16(hdr[4:6], 1)
	binary.LittleEndian.PutUint16(hdr[6:8], 0)
	binary.LittleEndian.PutUint16(hdr[8:10], HeaderSize)
	binary.LittleEndian.PutUint16(hdr[10:12], ChunkHeaderSize)
	binary.LittleEndian.PutUint32(hdr[12:16], blockSize)
	binary.LittleEndian.PutUint32(hdr[16:20], totalBlocks)
	binary.LittleEndian.PutUint32(hdr[20:24], totalChunks)
	binary.LittleEndian.PutUint32(hdr[24:28], 0)
	buf.Write(hdr)

	for _, s := range specs {
		chdr := make([]byte, ChunkHeaderSize)
		binary.LittleEndian.PutUint16(chdr[0:2], uint16(s.typ))
		binary.LittleEndian.PutUint32(chdr[4:8], s.blocks)
		total := uint32(ChunkHeaderSize + len(s.payload))
		binary.LittleEndian.PutUint32(chdr[8:12], total)
		buf.Write(chdr)
		buf.Write(s.payload)
	}
	return buf.Bytes()
}

// Scenario 1 from spec.md §8: one RAW + one DONT_CARE.
func TestScenarioRawAndDontCare(t *testing.T) {
	blockSize := uint32(4096)
	rawPayload := bytes.Repeat([]byte{0xAB}, 8192)
	data := buildImage(t, blockSize, 4, []chunkSpec{
		{typ: ChunkRaw, blocks: 2, payload: rawPayload},
		{typ: ChunkDontCare, blocks: 2},
	})

	img, err := Parse(bytesReaderAt(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got, want := img.ExpandedSize(), int64(16384); got != want {
		t.Errorf("ExpandedSize() = %d, want %d", got, want)
	}

	out := make([]byte, img.ExpandedSize())
	n, err := readAll(img, out)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if n != len(out) {
		t.Fatalf("read %d bytes, want %d", n, len(out))
	}
	for i := 0; i < 8192; i++ {
		if out[i] != 0xAB {
			t.Fatalf("byte %d = %#x, want 0xAB", i, out[i])
		}
	}
	for i := 8192; i < 16384; i++ {
		if out[i] != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, out[i])
		}
	}

	ranges := img.DataRanges()
	want := []DataRange{{Offset: 0, Length: 8192}}
	if diff := cmp.Diff(want, ranges); diff != "" {
		t.Errorf("DataRanges mismatch (-want +got):\n%s", diff)
	}
}

// Scenario 2 from spec.md §8: FILL chunk cycling a 4-byte word.
func TestScenarioFill(t *testing.T) {
	blockSize := uint32(4096)
	fillWord := []byte{0xEF, 0xBE, 0xAD, 0xDE} // little-endian 0xDEADBEEF
	data := buildImage(t, blockSize, 1, []chunkSpec{
		{typ: ChunkFill, blocks: 1, payload: fillWord},
	})

	img, err := Parse(bytesReaderAt(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	out := make([]byte, img.ExpandedSize())
	if _, err := readAll(img, out); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	for i := 0; i < len(out); i++ {
		want := fillWord[i%4]
		if out[i] != want {
			t.Fatalf("byte %d = %#x, want %#x", i, out[i], want)
		}
	}
}

func TestParseRejectsBlockCountMismatch(t *testing.T) {
	data := buildImage(t, 4096, 99, []chunkSpec{
		{typ: ChunkDontCare, blocks: 1},
	})
	if _, err := Parse(bytesReaderAt(data)); err == nil {
		t.Fatal("expected error for mismatched total blocks, got nil")
	}
}

func TestProbe(t *testing.T) {
	data := buildImage(t, 4096, 1, []chunkSpec{{typ: ChunkDontCare, blocks: 1}})
	ok, err := Probe(bytesReaderAt(data))
	if err != nil || !ok {
		t.Fatalf("Probe() = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = Probe(bytesReaderAt([]byte{0, 0, 0, 0}))
	if err != nil || ok {
		t.Fatalf("Probe() on non-sparse data = (%v, %v), want (false, nil)", ok, err)
	}
}

// TestRoundTrip exercises spec.md §8's "sparse round-trip" property: expand
// a RAW-only image, re-sparsify the RAW+FILL regions, and confirm the
// re-sparsified image expands back to the same bytes.
func TestRoundTrip(t *testing.T) {
	blockSize := uint32(512)
	raw := make([]byte, blockSize*6)
	for i := range raw[blockSize : blockSize*3] {
		raw[int(blockSize)+i] = byte(i % 251)
	}
	// raw[blockSize*3:blockSize*4] stays zero (a DONT_CARE run).
	for i := range raw[blockSize*4:] {
		raw[int(blockSize)*4+i] = byte((i + 7) % 251)
	}

	img, _ := Resparsify(raw, blockSize)
	out := make([]byte, img.ExpandedSize())
	if _, err := readAll(img, out); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if diff := cmp.Diff(raw, out); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestResplitGroupsFitBudget(t *testing.T) {
	blockSize := uint32(4096)
	var specs []chunkSpec
	for i := 0; i < 10; i++ {
		specs = append(specs, chunkSpec{typ: ChunkRaw, blocks: 1, payload: bytes.Repeat([]byte{byte(i)}, int(blockSize))})
	}
	data := buildImage(t, blockSize, 10, specs)
	img, err := Parse(bytesReaderAt(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	budget := int64(HeaderSize + 3*(ChunkHeaderSize+int(blockSize)))
	groups, err := Resplit(img, budget)
	if err != nil {
		t.Fatalf("Resplit failed: %v", err)
	}
	total := 0
	for _, g := range groups {
		if g.SerializedSize() > budget {
			t.Errorf("group serialized size %d exceeds budget %d", g.SerializedSize(), budget)
		}
		if g.Header.ImageChecksum != 0 {
			t.Errorf("group checksum = %d, want 0", g.Header.ImageChecksum)
		}
		total += len(g.Chunks)
	}
	if total != len(img.Chunks) {
		t.Errorf("resplit groups cover %d chunks, want %d", total, len(img.Chunks))
	}
}

func readAll(img *Image, out []byte) (int, error) {
	total := 0
	for total < len(out) {
		n, err := img.ReadAt(out[total:], int64(total))
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
