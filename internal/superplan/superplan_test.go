package superplan

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/gpt"
)

const (
	testHeaderMagicStd   = 0x41680530
	testExtentKindLinear = 0
)

// buildMetadataBlob mirrors internal/lp's own test fixture: a minimal LP
// metadata blob with only the partition and extent tables populated.
func buildMetadataBlob(t *testing.T, partitions []testPartition, extents []testExtent) []byte {
	t.Helper()
	const headerSize = 64

	var tables bytes.Buffer
	partOff := uint32(tables.Len())
	for _, p := range partitions {
		rec := make([]byte, 48)
		copy(rec[0:36], []byte(p.Name))
		binary.LittleEndian.PutUint32(rec[40:44], p.FirstExtent)
		binary.LittleEndian.PutUint32(rec[44:48], p.NumExtents)
		tables.Write(rec)
	}
	extOff := uint32(tables.Len())
	for _, e := range extents {
		rec := make([]byte, 24)
		binary.LittleEndian.PutUint64(rec[0:8], e.NumSectors512)
		binary.LittleEndian.PutUint32(rec[8:12], e.Kind)
		binary.LittleEndian.PutUint64(rec[12:20], e.TargetData512)
		tables.Write(rec)
	}
	tablesSize := uint32(tables.Len())

	var buf bytes.Buffer
	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[0:4], testHeaderMagicStd)
	binary.LittleEndian.PutUint32(hdr[8:12], headerSize)
	binary.LittleEndian.PutUint32(hdr[28:32], tablesSize)
	buf.Write(hdr)

	type desc struct{ offset, count, entrySize uint32 }
	descs := []desc{
		{partOff, uint32(len(partitions)), 48},
		{extOff, uint32(len(extents)), 24},
		{0, 0, 0}, {0, 0, 0}, {0, 0, 0}, {0, 0, 0},
	}
	for _, d := range descs {
		var rec [12]byte
		binary.LittleEndian.PutUint32(rec[0:4], d.offset)
		binary.LittleEndian.PutUint32(rec[4:8], d.count)
		binary.LittleEndian.PutUint32(rec[8:12], d.entrySize)
		buf.Write(rec[:])
	}
	buf.Write(tables.Bytes())
	return buf.Bytes()
}

type testPartition struct {
	Name                   string
	FirstExtent, NumExtents uint32
}

type testExtent struct {
	NumSectors512, TargetData512 uint64
	Kind                         uint32
}

func writeSuperMeta(t *testing.T, dir string, partitions []testPartition, extents []testExtent) string {
	t.Helper()
	blob := buildMetadataBlob(t, partitions, extents)
	img := make([]byte, 8192+len(blob))
	copy(img[8192:], blob)

	imagesDir := filepath.Join(dir, "IMAGES")
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(imagesDir, "super_meta.raw")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPlanResolvesAndPrependsMetadataMirrors(t *testing.T) {
	dir := t.TempDir()
	writeSuperMeta(t, dir, []testPartition{
		{Name: "system_a", FirstExtent: 0, NumExtents: 1},
		{Name: "system_b", FirstExtent: 1, NumExtents: 1},
	}, []testExtent{
		{NumSectors512: 2048, Kind: testExtentKindLinear, TargetData512: 0},
		{NumSectors512: 2048, Kind: testExtentKindLinear, TargetData512: 2048},
	})

	imagesDir := filepath.Join(dir, "IMAGES")
	content := bytes.Repeat([]byte{0x11}, 4096)
	if err := os.WriteFile(filepath.Join(imagesDir, "system.img"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	tasks, err := Plan(dir, "", gpt.SlotA, 1000, 4096)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(tasks) != 3 {
		t.Fatalf("tasks = %+v, want 3 (2 metadata mirrors + system_a)", tasks)
	}
	if tasks[0].PartitionName != "super_metadata_primary" || tasks[0].AbsoluteSector != 1001 {
		t.Errorf("tasks[0] = %+v, want primary mirror at sector 1001", tasks[0])
	}
	if tasks[1].PartitionName != "super_metadata_backup" || tasks[1].AbsoluteSector != 1002 {
		t.Errorf("tasks[1] = %+v, want backup mirror at sector 1002", tasks[1])
	}
	if tasks[2].PartitionName != "system_a" {
		t.Errorf("tasks[2].PartitionName = %q, want system_a", tasks[2].PartitionName)
	}
	if tasks[2].FilePath != filepath.Join(imagesDir, "system.img") {
		t.Errorf("tasks[2].FilePath = %q, want resolved via base-name-stripped fallback", tasks[2].FilePath)
	}
	if tasks[2].ByteSize != int64(len(content)) {
		t.Errorf("tasks[2].ByteSize = %d, want %d", tasks[2].ByteSize, len(content))
	}
}

func TestPlanSkipsOppositeSlot(t *testing.T) {
	dir := t.TempDir()
	writeSuperMeta(t, dir, []testPartition{
		{Name: "vendor_b", FirstExtent: 0, NumExtents: 1},
	}, []testExtent{
		{NumSectors512: 1024, Kind: testExtentKindLinear, TargetData512: 0},
	})

	tasks, err := Plan(dir, "", gpt.SlotA, 1000, 4096)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("tasks = %+v, want only the 2 metadata mirrors (vendor_b excluded under slot a)", tasks)
	}
}

func TestResolveVolumeFilePrefersSuperDef(t *testing.T) {
	dir := t.TempDir()
	imagesDir := filepath.Join(dir, "IMAGES", "custom")
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(imagesDir, "renamed_system.img")
	if err := os.WriteFile(target, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	superDef := map[string]string{"system_a": "IMAGES/custom/renamed_system.img"}
	got, err := resolveVolumeFile(dir, superDef, "", "system_a")
	if err != nil {
		t.Fatalf("resolveVolumeFile failed: %v", err)
	}
	if got != target {
		t.Errorf("resolveVolumeFile = %q, want %q", got, target)
	}
}

func TestPartitionMatchesSlot(t *testing.T) {
	cases := []struct {
		name string
		slot gpt.AggregateSlot
		want bool
	}{
		{"boot_a", gpt.SlotA, true},
		{"boot_a", gpt.SlotB, false},
		{"boot_b", gpt.SlotB, true},
		{"persist", gpt.SlotA, true},
	}
	for _, c := range cases {
		if got := partitionMatchesSlot(c.name, c.slot); got != c.want {
			t.Errorf("partitionMatchesSlot(%q, %s) = %v, want %v", c.name, c.slot, got, c.want)
		}
	}
}
