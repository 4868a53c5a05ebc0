// Package xerr provides structured, stack-carrying errors for the flashing
// engines. It mirrors the shape of chromiumos/tast/errors (New/Errorf/Wrap/
// Wrapf, a concrete error type usable with errors.Is/errors.As) but is backed
// by the real github.com/pkg/errors package rather than an internal,
// unfetchable one.
package xerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error per the error taxonomy in §7 of the spec.
type Kind int

const (
	// KindUnspecified is the zero value; prefer a specific kind.
	KindUnspecified Kind = iota
	KindTransportIO
	KindProtocolViolation
	KindDeviceNak
	KindDeviceFatal
	KindMalformed
	KindNotFound
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransportIO:
		return "transport-io"
	case KindProtocolViolation:
		return "protocol-violation"
	case KindDeviceNak:
		return "device-nak"
	case KindDeviceFatal:
		return "device-fatal"
	case KindMalformed:
		return "malformed"
	case KindNotFound:
		return "not-found"
	case KindCancelled:
		return "cancelled"
	default:
		return "unspecified"
	}
}

// E is the concrete error type returned by the engines and codecs.
type E struct {
	kind Kind
	op   string
	err  error
}

// New creates a kind-tagged error carrying a stack trace.
func New(kind Kind, op, msg string) *E {
	return &E{kind: kind, op: op, err: errors.New(msg)}
}

// Errorf creates a kind-tagged formatted error carrying a stack trace.
func Errorf(kind Kind, op, format string, args ...interface{}) *E {
	return &E{kind: kind, op: op, err: errors.Errorf(format, args...)}
}

// Wrap tags cause with kind and op, preserving cause's stack/chain.
func Wrap(kind Kind, op string, cause error, msg string) *E {
	if cause == nil {
		return nil
	}
	return &E{kind: kind, op: op, err: errors.Wrap(cause, msg)}
}

// Wrapf tags cause with kind and op, preserving cause's stack/chain.
func Wrapf(kind Kind, op string, cause error, format string, args ...interface{}) *E {
	if cause == nil {
		return nil
	}
	return &E{kind: kind, op: op, err: errors.Wrapf(cause, format, args...)}
}

// Error implements error. Messages follow "operation: one-line cause".
func (e *E) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %s", e.op, e.err.Error())
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *E) Unwrap() error { return e.err }

// Kind reports the error's classification.
func (e *E) Kind() Kind { return e.kind }

// Is reports whether err is an *E with the given kind.
func Is(err error, kind Kind) bool {
	var e *E
	if !errors.As(err, &e) {
		return false
	}
	return e.kind == kind
}
