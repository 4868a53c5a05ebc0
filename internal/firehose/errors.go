package firehose

import (
	"strings"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// NAKClass is the best-effort classification of a device NAK's error
// string, per spec.md §4.7's "Error taxonomy from NAKs".
type NAKClass int

const (
	NAKGeneric NAKClass = iota
	NAKAuthentication
	NAKSignature
	NAKHash
	NAKPartitionNotFound
	NAKInvalidLUN
	NAKWriteProtect
	NAKTimeout
	NAKBusy
)

func (c NAKClass) String() string {
	switch c {
	case NAKAuthentication:
		return "authentication"
	case NAKSignature:
		return "signature"
	case NAKHash:
		return "hash"
	case NAKPartitionNotFound:
		return "partition-not-found"
	case NAKInvalidLUN:
		return "invalid-lun"
	case NAKWriteProtect:
		return "write-protect"
	case NAKTimeout:
		return "timeout"
	case NAKBusy:
		return "busy"
	default:
		return "generic"
	}
}

// Fatal reports whether this class should be treated as non-retryable.
func (c NAKClass) Fatal() bool {
	switch c {
	case NAKAuthentication, NAKSignature, NAKHash, NAKWriteProtect:
		return true
	default:
		return false
	}
}

// Retryable reports whether a caller may reasonably retry the same
// directive after this class of NAK.
func (c NAKClass) Retryable() bool {
	switch c {
	case NAKTimeout, NAKBusy, NAKGeneric:
		return true
	default:
		return false
	}
}

// classificationRules maps lower-cased substrings to classes, checked in
// order — the first match wins, per spec.md §4.7's best-effort substring
// classification.
var classificationRules = []struct {
	substr string
	class  NAKClass
}{
	{"auth", NAKAuthentication},
	{"signature", NAKSignature},
	{"hash", NAKHash},
	{"not found", NAKPartitionNotFound},
	{"does not exist", NAKPartitionNotFound},
	{"invalid lun", NAKInvalidLUN},
	{"invalid destination lun", NAKInvalidLUN},
	{"write protect", NAKWriteProtect},
	{"timeout", NAKTimeout},
	{"timed out", NAKTimeout},
	{"busy", NAKBusy},
}

// classifyNAK turns a device error string into a structured DeviceNak
// xerr.E carrying the derived NAKClass.
func classifyNAK(errAttr string) error {
	lower := strings.ToLower(errAttr)
	class := NAKGeneric
	for _, rule := range classificationRules {
		if strings.Contains(lower, rule.substr) {
			class = rule.class
			break
		}
	}
	e := xerr.Errorf(xerr.KindDeviceNak, "firehose", "device NAK (%s): %s", class, errAttr)
	return &nakError{E: e, class: class}
}

// nakError augments xerr.E with the derived NAKClass so callers can branch
// on Fatal()/Retryable() without re-parsing the message.
type nakError struct {
	*xerr.E
	class NAKClass
}

// Class reports the derived NAK classification.
func (n *nakError) Class() NAKClass { return n.class }

// ClassOf extracts the NAKClass from err if it is a classified device NAK,
// reporting ok=false otherwise.
func ClassOf(err error) (NAKClass, bool) {
	n, ok := err.(*nakError)
	if !ok {
		return 0, false
	}
	return n.class, true
}
