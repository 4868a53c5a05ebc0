package gpt

// Patch is a generator for a Firehose <patch> directive: a start sector, a
// byte offset within that sector, and an 8-byte little-endian value, per
// spec.md §4.3's patch math.
type Patch struct {
	StartSector       uint64
	ByteOffsetInSector int
	ValueLE            [8]byte
}

// AttributePatch computes the byte offset of partition p's attribute field
// as (gpt_entries_lba * sector_size) + (entry_index * 128) + 48, then
// expresses it as a (start-sector, byte-offset-within-sector) pair so the
// write lands on a single sector, per spec.md §4.3.
func AttributePatch(h Header, p Partition, newAttrs uint64) Patch {
	absOffset := h.PartitionEntryLBA*uint64(h.SectorSize) + uint64(p.EntryIndex)*primaryEntrySize + 48
	startSector := absOffset / uint64(h.SectorSize)
	byteOffset := int(absOffset % uint64(h.SectorSize))

	var v [8]byte
	for i := 0; i < 8; i++ {
		v[i] = byte(newAttrs >> (8 * i))
	}
	return Patch{StartSector: startSector, ByteOffsetInSector: byteOffset, ValueLE: v}
}
