package firehose

import (
	"context"
	"strconv"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/gpt"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// coreABPartitions is the base A/B set SetActiveSlot's patch fallback covers;
// a name with no _a/_b pair in the partition table is skipped.
var coreABPartitions = []string{"boot", "dtbo", "vbmeta", "vendor_boot", "init_boot"}

// optionalABPartitions is patched only if present on the device, per
// spec.md §4.7.
var optionalABPartitions = []string{"system", "vendor", "product", "odm", "system_ext", "system_dlkm", "vendor_dlkm", "odm_dlkm"}

// ApplyPatch emits a single <patch> directive, per spec.md §4.7's Patch
// application.
func (e *Engine) ApplyPatch(ctx context.Context, p gpt.Patch, filename string, physicalPartitionNumber int) error {
	dreq := patchRequest{
		SectorSizeInBytes:       e.session.SectorSizeBytes,
		ByteOffset:              p.ByteOffsetInSector,
		Filename:                filename,
		PhysicalPartitionNumber: physicalPartitionNumber,
		SizeInBytes:             len(p.ValueLE),
		StartSector:             strconv.FormatUint(p.StartSector, 10),
		Value:                   "0x" + hexLE(p.ValueLE[:]),
	}
	_, err := e.sendCommand(ctx, dreq)
	return err
}

func hexLE(b []byte) string {
	const hexdigits = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*2)
	for i := len(b) - 1; i >= 0; i-- {
		out = append(out, hexdigits[b[i]>>4], hexdigits[b[i]&0xF])
	}
	return string(out)
}

// SetActiveSlot tries <setactiveslot slot="a|b"/> first; on a non-ACK
// response it falls back to the patch-based routine over the core (and any
// present optional) A/B partition set, per spec.md §4.7.
func (e *Engine) SetActiveSlot(ctx context.Context, header gpt.Header, partitions []gpt.Partition, slot gpt.AggregateSlot, physicalPartitionNumber int) error {
	if _, err := e.sendCommand(ctx, setActiveSlotRequest{Slot: string(slot)}); err == nil {
		return nil
	}

	byBaseName := make(map[string][2]*gpt.Partition) // name -> [slotA, slotB]
	for i := range partitions {
		p := &partitions[i]
		base, isA, isB := splitABSuffix(p.Name)
		if !isA && !isB {
			continue
		}
		entry := byBaseName[base]
		if isA {
			entry[0] = p
		} else {
			entry[1] = p
		}
		byBaseName[base] = entry
	}

	candidates := append(append([]string{}, coreABPartitions...), optionalABPartitions...)
	var applied int
	for _, base := range candidates {
		entry, ok := byBaseName[base]
		if !ok {
			continue
		}
		if err := e.patchSlotPair(ctx, header, entry, slot, physicalPartitionNumber); err != nil {
			return xerr.Wrapf(xerr.KindTransportIO, "firehose.SetActiveSlot", err, "partition %s", base)
		}
		applied++
	}
	if applied == 0 {
		return xerr.New(xerr.KindNotFound, "firehose.SetActiveSlot", "no A/B partitions found to patch")
	}

	_, err := e.sendCommand(ctx, fixGPTRequest{LUN: "all", GrowLastPartition: 0})
	return err
}

// patchSlotPair patches both _a and _b halves of one logical partition: the
// target slot gets active=1/priority=3/successful=0/unbootable=0, the other
// slot gets active=0/priority=1 with successful/unbootable left as the
// source data already encoded, per spec.md §4.7.
func (e *Engine) patchSlotPair(ctx context.Context, header gpt.Header, pair [2]*gpt.Partition, slot gpt.AggregateSlot, physicalPartitionNumber int) error {
	targetIdx, otherIdx := 0, 1
	if slot == gpt.SlotB {
		targetIdx, otherIdx = 1, 0
	}
	if p := pair[targetIdx]; p != nil {
		newAttrs := gpt.SetFlags(p.Attributes, true, 3, false, false)
		patch := gpt.AttributePatch(header, *p, newAttrs)
		if err := e.ApplyPatch(ctx, patch, "DISK", physicalPartitionNumber); err != nil {
			return err
		}
	}
	if p := pair[otherIdx]; p != nil {
		cur := gpt.DecodeSlotInfo(p.Attributes)
		newAttrs := gpt.SetFlags(p.Attributes, false, 1, cur.Successful, cur.Unbootable)
		patch := gpt.AttributePatch(header, *p, newAttrs)
		if err := e.ApplyPatch(ctx, patch, "DISK", physicalPartitionNumber); err != nil {
			return err
		}
	}
	return nil
}

func splitABSuffix(name string) (base string, isA, isB bool) {
	switch {
	case hasSuffix(name, "_a"):
		return name[:len(name)-2], true, false
	case hasSuffix(name, "_b"):
		return name[:len(name)-2], false, true
	default:
		return name, false, false
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
