// Package deviceinfo assembles a human-readable device identity — market
// name, build fingerprint, OTA version, and OEM-skin detection — by locating
// and parsing build.prop across Android's dynamic partitions, falling back
// to physical partitions when Super metadata cannot be parsed at all.
package deviceinfo

import (
	"bytes"
	"context"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/fsprobe"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/gpt"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/lp"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/xlog"
)

// CandidateLogicalVolumes is the up-to-six dynamic-partition names probed
// for build.prop, in the same order the merge policy trusts them: later
// entries overwrite fields earlier ones already populated.
var CandidateLogicalVolumes = []string{"system", "system_ext", "product", "vendor", "odm", "my_manifest"}

// FallbackPhysicalPartitions is tried, in order, when Super metadata cannot
// be located or parsed at all.
var FallbackPhysicalPartitions = []string{"system", "vendor", "my_manifest", "cust", "persist", "odm", "product"}

// probeByteCap bounds how much of a candidate volume is pulled over the wire
// while hunting for build.prop — enough for a filesystem's superblock, inode
// tables, and an early build.prop without reading an entire multi-gigabyte
// system image.
const probeByteCap = 32 << 20

// SectorSource reads a span of sectors from a physical partition. Callers
// typically back this with FirehoseEngine.ReadPartition against an in-memory
// buffer.
type SectorSource interface {
	ReadSectors(ctx context.Context, physicalPartitionNumber int, startSector, numSectors, sectorSize uint64) ([]byte, error)
}

// PhysicalLookup resolves a physical partition by name, for the fallback
// path used when Super metadata is unusable.
type PhysicalLookup interface {
	ResolvePhysical(name string) (physicalPartitionNumber int, startSector, numSectors uint64, ok bool)
}

// Assembler orchestrates the read-side probing described in spec.md §4.8.
type Assembler struct {
	sectors  SectorSource
	physical PhysicalLookup
}

// New constructs an Assembler. physical may be nil if the caller has no
// physical-partition fallback source (Super-parse failures then simply
// yield fewer populated fields rather than an error).
func New(sectors SectorSource, physical PhysicalLookup) *Assembler {
	return &Assembler{sectors: sectors, physical: physical}
}

// Assemble probes Super's dynamic partitions (falling back to physical
// partitions if super is nil) and merges any build.prop content found into
// a single Info, per spec.md §4.8's priority ladder and scan-order merge
// policy.
func (a *Assembler) Assemble(ctx context.Context, super *lp.Metadata, superStartSector, deviceSectorSize uint64, activeSlot gpt.AggregateSlot, physicalPartitionNumber int) (*Info, error) {
	log := xlog.For("deviceinfo")
	out := &Info{}

	if super != nil {
		resolved := super.ResolveSectors(superStartSector, deviceSectorSize)
		for _, name := range CandidateLogicalVolumes {
			lpart, ok := findLogicalPartition(resolved, name, activeSlot)
			if !ok {
				continue
			}
			if len(lpart.Segments) == 0 {
				continue
			}
			seg := lpart.Segments[0]
			numSectors := seg.NumSectors
			if capSectors := probeByteCap / deviceSectorSize; numSectors > capSectors {
				numSectors = capSectors
			}
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			blob, err := a.sectors.ReadSectors(ctx, physicalPartitionNumber, seg.AbsoluteSector, numSectors, deviceSectorSize)
			if err != nil {
				log.WithField("volume", lpart.Name).WithError(err).Debug("read candidate volume failed")
				continue
			}
			info, found := probeBuildProp(blob)
			if !found {
				continue
			}
			mergeInto(out, info, lpart.Name)
		}
		return out, nil
	}

	if a.physical == nil {
		return out, nil
	}
	for _, name := range FallbackPhysicalPartitions {
		ppn, startSector, numSectors, ok := a.physical.ResolvePhysical(name)
		if !ok {
			continue
		}
		if capSectors := probeByteCap / deviceSectorSize; numSectors > capSectors {
			numSectors = capSectors
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		blob, err := a.sectors.ReadSectors(ctx, ppn, startSector, numSectors, deviceSectorSize)
		if err != nil {
			log.WithField("partition", name).WithError(err).Debug("read fallback partition failed")
			continue
		}
		info, found := probeBuildProp(blob)
		if !found {
			continue
		}
		mergeInto(out, info, name)
	}
	return out, nil
}

// findLogicalPartition looks up name in resolved, preferring the active-slot
// suffixed variant (e.g. "system_a") before the bare name, per spec.md §4.8's
// "each with and without an active-slot suffix".
func findLogicalPartition(resolved []lp.LogicalPartition, name string, slot gpt.AggregateSlot) (lp.LogicalPartition, bool) {
	if slot == gpt.SlotA || slot == gpt.SlotB {
		if p, ok := findByName(resolved, name+"_"+string(slot)); ok {
			return p, true
		}
	}
	return findByName(resolved, name)
}

func findByName(resolved []lp.LogicalPartition, name string) (lp.LogicalPartition, bool) {
	for _, p := range resolved {
		if p.Name == name {
			return p, true
		}
	}
	return lp.LogicalPartition{}, false
}

// probeBuildProp classifies blob's filesystem and, if recognized, locates
// and parses build.prop. A false second return means no build.prop was
// found — not an error, just a miss the caller should keep scanning past.
func probeBuildProp(blob []byte) (*Info, bool) {
	result, err := fsprobe.FindBuildProp(bytes.NewReader(blob))
	if err != nil {
		return nil, false
	}
	return parseBuildProp(result.Content), true
}
