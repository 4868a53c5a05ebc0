package deviceinfo

// mergeInto applies spec.md §4.8's merge policy: last-writer-wins, and only
// non-empty source fields overwrite target fields. source identifies which
// logical or physical partition src was parsed from.
func mergeInto(dst *Info, src *Info, source string) {
	if src.Manufacturer != "" {
		dst.Manufacturer = src.Manufacturer
	}
	if src.Brand != "" {
		dst.Brand = src.Brand
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Device != "" {
		dst.Device = src.Device
	}
	if src.MarketName != "" {
		dst.MarketName = src.MarketName
	}
	if src.BuildFingerprint != "" {
		dst.BuildFingerprint = src.BuildFingerprint
	}
	if src.AndroidRelease != "" {
		dst.AndroidRelease = src.AndroidRelease
	}
	if src.OTAVersion != "" {
		dst.OTAVersion = src.OTAVersion
	}
	if src.RegionTag != "" {
		dst.RegionTag = src.RegionTag
	}
	if src.IsHyperOS {
		dst.IsHyperOS = true
		dst.HyperOSVersion = src.HyperOSVersion
	}
	if src.IsZUI {
		dst.IsZUI = true
		dst.ZUIVersion = src.ZUIVersion
	}
	if source != "" {
		dst.Sources = append(dst.Sources, source)
	}
}
