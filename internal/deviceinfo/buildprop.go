package deviceinfo

import "regexp"

// buildPropKeyPattern extracts ro./display./persist. keyed lines from raw
// build.prop bytes, tolerating embedded NULs: the value class simply stops
// at the first NUL rather than requiring the whole blob to be valid text,
// per spec.md §4.8.
var buildPropKeyPattern = regexp.MustCompile(`((?:ro|display|persist)\.[A-Za-z0-9_.]*)=([^\x00\r\n]*)`)

// regionTagPattern matches the `(CC##)` region tag OPLUS appends to its
// display id, e.g. "(EX01)".
var regionTagPattern = regexp.MustCompile(`\(([A-Z]{2}\d{2})\)`)

// hyperPrefixPattern matches Xiaomi's "V12.5" (MIUI-era) and "OS1.0"
// (HyperOS) incremental-version prefixes.
var hyperPrefixPattern = regexp.MustCompile(`^(?:V|OS)(\d+)\.(\d+)`)

// zuiPattern matches a Lenovo ZUI version string, e.g. "ZUI 16.0.123".
var zuiPattern = regexp.MustCompile(`ZUI\s*([0-9]+(?:\.[0-9]+)?)`)

// hyperOSMajorToAndroid back-infers the underlying Android major version
// from a HyperOS major version, used only when the generic release prop is
// empty.
var hyperOSMajorToAndroid = map[string]string{"1": "14", "2": "15"}

func scanProps(content []byte) map[string]string {
	props := make(map[string]string)
	for _, m := range buildPropKeyPattern.FindAllSubmatch(content, -1) {
		key := string(m[1])
		if _, ok := props[key]; !ok {
			props[key] = string(m[2])
		}
	}
	return props
}

// parseBuildProp scans content for property lines and applies spec.md
// §4.8's priority ladder for conflicting keys.
func parseBuildProp(content []byte) *Info {
	props := scanProps(content)
	info := &Info{
		Manufacturer:   props["ro.product.manufacturer"],
		Brand:          props["ro.product.brand"],
		Model:          props["ro.product.model"],
		Device:         props["ro.product.device"],
		BuildFingerprint: props["ro.build.fingerprint"],
		AndroidRelease: props["ro.build.version.release"],
	}

	// Market name: OPLUS's own key wins over the generic brand/product key.
	if v := props["ro.oplus.market.name"]; v != "" {
		info.MarketName = v
	} else {
		info.MarketName = props["ro.product.marketname"]
	}

	// OTA version: the generic display id is the default source; OPLUS's
	// display.id.show overrides it only when it carries a region tag.
	info.OTAVersion = props["ro.build.display.id"]
	if show := props["ro.build.display.id.show"]; show != "" {
		if m := regionTagPattern.FindStringSubmatch(show); m != nil {
			info.OTAVersion = show
			info.RegionTag = m[1]
		} else if info.OTAVersion == "" {
			info.OTAVersion = show
		}
	}

	if v := props["ro.mi.os.version.name"]; v != "" {
		if m := hyperPrefixPattern.FindStringSubmatch(v); m != nil {
			info.IsHyperOS = true
			info.HyperOSVersion = m[1] + "." + m[2]
			if android, ok := hyperOSMajorToAndroid[m[1]]; ok && info.AndroidRelease == "" {
				info.AndroidRelease = android
			}
		}
	}

	for _, key := range []string{"ro.build.version.zui", "ro.build.display.id"} {
		if v := props[key]; v == "" {
			continue
		} else if m := zuiPattern.FindStringSubmatch(v); m != nil {
			info.IsZUI = true
			info.ZUIVersion = m[1]
			break
		}
	}

	return info
}
