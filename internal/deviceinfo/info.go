package deviceinfo

// Info is the fixed set of semantic fields spec.md §4.8 populates from
// build.prop content, after applying its vendor-specific priority ladder.
type Info struct {
	Manufacturer     string
	Brand            string
	Model            string
	Device           string
	MarketName       string
	BuildFingerprint string
	AndroidRelease   string
	OTAVersion       string
	RegionTag        string

	IsHyperOS      bool
	HyperOSVersion string

	IsZUI      bool
	ZUIVersion string

	// Sources lists, in merge order, the logical or physical partition
	// names that contributed at least one field.
	Sources []string
}
