package firehose

import (
	"strconv"
	"strings"
)

// startSectorSpec is a parsed start_sector attribute: either a numeric base
// sector that chunking may offset, or a negative-addressed shorthand
// ("NUM_DISK_SECTORS-N.") that is reproduced verbatim for every chunk, per
// spec.md §4.7's "Negative-sector addressing" (no host-side resolution).
type startSectorSpec struct {
	base     int64
	verbatim string
	negative bool
}

func parseStartSectorSpec(s string) startSectorSpec {
	if strings.Contains(s, "NUM_DISK_SECTORS") {
		return startSectorSpec{verbatim: s, negative: true}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return startSectorSpec{verbatim: s, negative: true}
	}
	return startSectorSpec{base: n}
}

// at returns the start_sector attribute value for the chunk sectorOffset
// sectors into the transfer.
func (s startSectorSpec) at(sectorOffset int64) string {
	if s.negative {
		return s.verbatim
	}
	return strconv.FormatInt(s.base+sectorOffset, 10)
}
