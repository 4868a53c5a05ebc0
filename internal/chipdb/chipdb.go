// Package chipdb is the "pure lookup table" external collaborator called out
// by spec.md §1: a static map from Qualcomm MSM hardware ID to a marketing
// name. It is intentionally small and replaceable — SaharaEngine depends on
// the Lookup interface, not this table.
package chipdb

// Lookup resolves a 32-bit MSM hardware ID to a vendor/marketing name.
type Lookup interface {
	Lookup(hwid uint32) (name string, ok bool)
}

// Static is the default, in-memory Lookup implementation.
type Static struct {
	table map[uint32]string
}

// NewStatic returns a Lookup backed by the built-in chip table.
func NewStatic() *Static {
	return &Static{table: builtin}
}

// Lookup implements Lookup.
func (s *Static) Lookup(hwid uint32) (string, bool) {
	name, ok := s.table[hwid]
	return name, ok
}

// builtin holds a small sample of well-known Qualcomm MSM hardware IDs.
// Real deployments are expected to replace or extend this table; it exists
// so SaharaEngine's chip-info assembly has a concrete default.
var builtin = map[uint32]string{
	0x0001001a: "MSM8916",
	0x00290000: "MSM8937",
	0x0031001c: "SDM660",
	0x00180026: "SDM845",
	0x00340135: "SM8150",
	0x0045051c: "SM8250",
	0x0067051e: "SM8350",
	0x00710500: "SM8450",
	0x00a9051e: "SM8550",
}
