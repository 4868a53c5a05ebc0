// Package superplan implements OplusSuperPlanner: given a firmware directory
// and the device's active slot, it resolves the dynamic partitions described
// by Super's LP metadata to concrete image files on disk and emits a flash
// plan a caller can feed straight to the Firehose write path.
package superplan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/gpt"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/lp"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/sparse"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// FlashTask is one unit of work: write the byte contents of FilePath to the
// device starting at AbsoluteSector, per spec.md §4.9.
type FlashTask struct {
	PartitionName  string
	FilePath       string
	AbsoluteSector uint64
	ByteSize       int64
}

// SuperDef is the optional META/super_def[.NV_ID].json mapping of logical
// volume name to an image file path relative to the firmware root.
type SuperDef struct {
	Volumes map[string]string `json:"volumes"`
}

// Plan parses firmwareRoot's LP metadata, filters to LINEAR extents matching
// activeSlot, resolves each to an image file, and returns the full flash
// plan with the two LP-metadata-mirror tasks prepended, per spec.md §4.9.
// nvID may be empty when the firmware package carries no device-specific
// variant.
func Plan(firmwareRoot, nvID string, activeSlot gpt.AggregateSlot, superStartSector, deviceSectorSize uint64) ([]FlashTask, error) {
	metaPath, err := locateSuperMeta(firmwareRoot, nvID)
	if err != nil {
		return nil, err
	}
	metaSize, err := fileSize(metaPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(metaPath)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindTransportIO, "superplan.Plan", err, "open super_meta")
	}
	defer f.Close()

	md, _, err := lp.Locate(f)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "superplan.Plan", err, "locate LP metadata")
	}

	superDef := loadSuperDef(firmwareRoot, nvID)

	tasks := []FlashTask{
		{PartitionName: "super_metadata_primary", FilePath: metaPath, AbsoluteSector: superStartSector + 1, ByteSize: metaSize},
		{PartitionName: "super_metadata_backup", FilePath: metaPath, AbsoluteSector: superStartSector + 2, ByteSize: metaSize},
	}

	resolved := md.ResolveSectors(superStartSector, deviceSectorSize)
	bySectorName := make(map[string]lp.LogicalPartition, len(resolved))
	for _, r := range resolved {
		bySectorName[r.Name] = r
	}

	for _, part := range md.Partitions {
		if !partitionMatchesSlot(part.Name, activeSlot) {
			continue
		}
		if len(md.LinearExtents(part)) == 0 {
			continue
		}
		lpart, ok := bySectorName[part.Name]
		if !ok || len(lpart.Segments) == 0 {
			continue
		}

		filePath, err := resolveVolumeFile(firmwareRoot, superDef, nvID, part.Name)
		if err != nil {
			continue
		}
		size, err := computeRealDataSize(filePath)
		if err != nil {
			continue
		}

		tasks = append(tasks, FlashTask{
			PartitionName:  part.Name,
			FilePath:       filePath,
			AbsoluteSector: lpart.Segments[0].AbsoluteSector,
			ByteSize:       size,
		})
	}
	return tasks, nil
}

// partitionMatchesSlot reports whether name belongs to the given aggregate
// slot: an _a/_b-suffixed name must match, anything else (shared partitions
// that carry no slot suffix) is always included.
func partitionMatchesSlot(name string, slot gpt.AggregateSlot) bool {
	switch {
	case strings.HasSuffix(name, "_a"):
		return slot == gpt.SlotA
	case strings.HasSuffix(name, "_b"):
		return slot == gpt.SlotB
	default:
		return true
	}
}

func stripABSuffix(name string) string {
	if strings.HasSuffix(name, "_a") || strings.HasSuffix(name, "_b") {
		return name[:len(name)-2]
	}
	return name
}

func locateSuperMeta(firmwareRoot, nvID string) (string, error) {
	imagesDir := filepath.Join(firmwareRoot, "IMAGES")
	if nvID != "" {
		candidate := filepath.Join(imagesDir, "super_meta."+nvID+".raw")
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	candidate := filepath.Join(imagesDir, "super_meta.raw")
	if fileExists(candidate) {
		return candidate, nil
	}
	return "", xerr.Errorf(xerr.KindNotFound, "superplan.locateSuperMeta", "no super_meta[.NV_ID].raw found under %s", imagesDir)
}

// loadSuperDef returns the parsed volumes map, or nil if no super_def file
// is present or it fails to parse — this source is optional, per spec.md
// §4.9.
func loadSuperDef(firmwareRoot, nvID string) map[string]string {
	metaDir := filepath.Join(firmwareRoot, "META")
	var candidates []string
	if nvID != "" {
		candidates = append(candidates, filepath.Join(metaDir, "super_def."+nvID+".json"))
	}
	candidates = append(candidates, filepath.Join(metaDir, "super_def.json"))

	for _, c := range candidates {
		b, err := os.ReadFile(c)
		if err != nil {
			continue
		}
		var def SuperDef
		if err := json.Unmarshal(b, &def); err != nil {
			continue
		}
		return def.Volumes
	}
	return nil
}

// resolveVolumeFile resolves a logical volume name to an image file, trying
// each strategy spec.md §4.9 lists in order: the super_def map, an
// NV-suffixed filename, the base name with its A/B suffix stripped, and
// finally a glob.
func resolveVolumeFile(firmwareRoot string, superDef map[string]string, nvID, name string) (string, error) {
	if superDef != nil {
		if p, ok := superDef[name]; ok {
			return filepath.Join(firmwareRoot, p), nil
		}
	}

	imagesDir := filepath.Join(firmwareRoot, "IMAGES")
	base := stripABSuffix(name)

	if nvID != "" {
		if candidate := filepath.Join(imagesDir, name+"."+nvID+".img"); fileExists(candidate) {
			return candidate, nil
		}
	}
	if candidate := filepath.Join(imagesDir, base+".img"); fileExists(candidate) {
		return candidate, nil
	}
	if matches, _ := filepath.Glob(filepath.Join(imagesDir, name+"*.img")); len(matches) > 0 {
		return matches[0], nil
	}
	if matches, _ := filepath.Glob(filepath.Join(imagesDir, base+"*.img")); len(matches) > 0 {
		return matches[0], nil
	}
	return "", xerr.Errorf(xerr.KindNotFound, "superplan.resolveVolumeFile", "no image file found for volume %q", name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, xerr.Wrap(xerr.KindNotFound, "superplan.fileSize", err, "stat file")
	}
	return info.Size(), nil
}

// computeRealDataSize returns path's real data size: a sparse image's
// expanded size, or the file's raw size otherwise, per spec.md §4.9's
// "Sparse-aware" requirement.
func computeRealDataSize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, xerr.Wrap(xerr.KindNotFound, "superplan.computeRealDataSize", err, "open image file")
	}
	defer f.Close()

	if ok, _ := sparse.Probe(f); ok {
		img, err := sparse.Parse(f)
		if err != nil {
			return 0, xerr.Wrap(xerr.KindMalformed, "superplan.computeRealDataSize", err, "parse sparse image")
		}
		return img.ExpandedSize(), nil
	}
	info, err := f.Stat()
	if err != nil {
		return 0, xerr.Wrap(xerr.KindTransportIO, "superplan.computeRealDataSize", err, "stat raw image")
	}
	return info.Size(), nil
}
