// Package firehose implements the second-stage Qualcomm EDL protocol: an
// XML-over-serial dialogue for partition read/write/erase, patch
// application, slot switching, and UFS provisioning.
//
// The engine's shape mirrors internal/sahara's: a single Engine type holding
// the Transport, a component logger, and per-session negotiated state,
// driven by context-scoped methods rather than a persistent background
// goroutine. Framing is a byte-level scan (see scan.go) rather than a
// streaming XML decoder, per spec.md §4.7's explicit performance note.
package firehose

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/transport"
	"github.com/HadiKhoirudin/sakuraedl-go/internal/xlog"
)

// StorageType selects the target device's storage bus, per spec.md §6's
// FirehoseOptions.
type StorageType string

const (
	StorageUFS   StorageType = "UFS"
	StorageEMMC  StorageType = "eMMC"
)

// Options is the FirehoseOptions bag from spec.md §6: a single plain struct
// accepted by the engine, with no environment variables or global state.
type Options struct {
	// ChunkSizeBytes, if non-zero, overrides the device's negotiated max
	// payload for read/write directives; 0 means "use the device max".
	ChunkSizeBytes int64
	// UseVIP enables the masquerade strategy list for locked devices.
	UseVIP bool
	// EnableProvision gates the UFS provisioning sequence; false by
	// default, per spec.md §4.7's "dangerous and potentially one-time".
	EnableProvision bool
	StorageType     StorageType
	// RequestedPayloadBytes is the max payload the host proposes during
	// Configure; the device's response value is authoritative.
	RequestedPayloadBytes int
}

// DefaultOptions returns an Options value matching spec.md §4.7's defaults:
// no chunking, no VIP, provisioning disabled, 16 MiB requested payload.
func DefaultOptions() Options {
	return Options{
		RequestedPayloadBytes: 16 << 20,
		StorageType:           StorageEMMC,
	}
}

// ProgressFunc reports (chunk index, total chunks, bytes transferred so
// far) during a chunked read or write.
type ProgressFunc func(index, total int, bytesDone int64)

// Session is the state negotiated by Configure, held for the lifetime of
// the Firehose dialogue.
type Session struct {
	SectorSizeBytes        int
	MaxPayloadSizeBytes    int
	MemoryName             string
}

// Engine drives one Firehose session over a Transport.
type Engine struct {
	t   transport.Transport
	log *logrus.Entry

	opts    Options
	session Session

	progress ProgressFunc

	// ackTimeout bounds how long the engine waits for a terminal
	// ACK/NAK envelope, per spec.md §5 ("ACK wait bounded by 30 s").
	ackTimeout time.Duration
	// readTimeout bounds a single ReadExact call for a data payload.
	readTimeout time.Duration
}

// New returns an Engine ready to Configure over t.
func New(t transport.Transport, opts Options) *Engine {
	return &Engine{
		t:           t,
		log:         xlog.For("firehose"),
		opts:        opts,
		ackTimeout:  30 * time.Second,
		readTimeout: 15 * time.Second,
	}
}

// SetProgress installs a callback invoked between chunks of a read or
// write. It must not block.
func (e *Engine) SetProgress(f ProgressFunc) { e.progress = f }

// Session returns the state negotiated by the last successful Configure.
func (e *Engine) Session() Session { return e.session }

func (e *Engine) reportProgress(index, total int, bytesDone int64) {
	if e.progress != nil {
		e.progress(index, total, bytesDone)
	}
}

// effectivePayload returns the per-directive byte unit: the configured
// chunk size if set (floored to a sector multiple, capped at the device's
// max payload), otherwise the device's own max payload, per spec.md §4.7's
// "Chunked transfer".
func (e *Engine) effectivePayload() int64 {
	maxPayload := int64(e.session.MaxPayloadSizeBytes)
	if maxPayload <= 0 {
		maxPayload = int64(e.opts.RequestedPayloadBytes)
	}
	if e.opts.ChunkSizeBytes <= 0 {
		return maxPayload
	}
	sector := int64(e.session.SectorSizeBytes)
	if sector <= 0 {
		sector = 512
	}
	chunk := (e.opts.ChunkSizeBytes / sector) * sector
	if chunk <= 0 {
		chunk = sector
	}
	if chunk > maxPayload {
		chunk = maxPayload
	}
	return chunk
}

// chunkCount returns the N = ceil(total/chunk) used by spec.md §8's chunk
// count math invariant.
func chunkCount(total, chunk int64) int {
	if chunk <= 0 {
		return 0
	}
	if total <= 0 {
		return 0
	}
	n := total / chunk
	if total%chunk != 0 {
		n++
	}
	return int(n)
}

// padToSector returns n rounded up to the next multiple of sector, per
// spec.md §8's Firehose padding invariant.
func padToSector(n, sector int64) int64 {
	if sector <= 0 {
		return n
	}
	rem := n % sector
	if rem == 0 {
		return n
	}
	return n + (sector - rem)
}
