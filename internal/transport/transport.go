// Package transport defines the narrow byte-oriented interface the Sahara
// and Firehose engines drive the device over, and a github.com/tarm/serial
// backed implementation of it.
//
// The shape is grounded on chromiumos/tast/common/firmware/serial.Port and
// ConnectedPort: a context-scoped Read/Write/Flush/Close wrapping
// github.com/tarm/serial, with a background goroutine turning the
// underlying blocking call into something select-able against ctx.Done().
package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// ErrTimeout is the cause wrapped into a KindTransportIO error whenever
// ReadExact returns because its deadline elapsed rather than because of an
// underlying I/O failure. Callers that need to tell a stall apart from a
// hard transport error (e.g. SaharaEngine's watchdog-governed read loop,
// per spec.md §4.6) should check for it with errors.Is.
var ErrTimeout = errors.New("transport: read timed out")

// Transport is the narrow interface consumed by SaharaEngine and
// FirehoseEngine (spec.md §4.1/§6). All operations are serialized by the
// caller; the interface itself makes no concurrency promises beyond what is
// documented per method.
type Transport interface {
	// Write writes all of p or returns an error.
	Write(ctx context.Context, p []byte) (int, error)
	// ReadExact blocks until exactly n bytes have been read, timeout
	// elapses, or ctx is cancelled, whichever happens first.
	ReadExact(ctx context.Context, n int, timeout time.Duration) ([]byte, error)
	// Available reports the number of bytes currently buffered for read,
	// without blocking.
	Available() (int, error)
	// DiscardIn purges any buffered, unread input.
	DiscardIn() error
	// DiscardOut purges any buffered, unwritten output.
	DiscardOut() error
	// Close releases the underlying device.
	Close() error
}

// Config mirrors chromiumos/tast/common/firmware/serial.Config: the
// parameters needed to open a directly connected serial port.
type Config struct {
	// Name is the path to the serial device, e.g. "/dev/ttyUSB0".
	Name string
	// Baud is the port's baud rate. EDL devices typically ignore this
	// (USB CDC-ACM), but tarm/serial requires a value.
	Baud int
	// ReadPollTimeout bounds each underlying blocking Read call so the
	// Go-side goroutine can periodically recheck ctx/deadlines; it is not
	// the caller-visible ReadExact timeout.
	ReadPollTimeout time.Duration
}

// SerialTransport implements Transport over github.com/tarm/serial.
type SerialTransport struct {
	mu   sync.Mutex
	port *serial.Port
}

// Open opens the serial device described by cfg.
func Open(cfg Config) (*SerialTransport, error) {
	pollTimeout := cfg.ReadPollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 200 * time.Millisecond
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: pollTimeout,
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.KindTransportIO, "transport.Open", err, "open serial port")
	}
	return &SerialTransport{port: port}, nil
}

// Write implements Transport.
func (t *SerialTransport) Write(ctx context.Context, p []byte) (int, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return 0, xerr.New(xerr.KindTransportIO, "transport.Write", "port already closed")
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := port.Write(p)
		done <- result{n, err}
	}()
	select {
	case <-ctx.Done():
		return 0, xerr.Wrap(xerr.KindCancelled, "transport.Write", ctx.Err(), "write cancelled")
	case r := <-done:
		if r.err != nil {
			return r.n, xerr.Wrap(xerr.KindTransportIO, "transport.Write", r.err, "serial write")
		}
		if r.n != len(p) {
			return r.n, xerr.Errorf(xerr.KindTransportIO, "transport.Write", "short write: wrote %d of %d bytes", r.n, len(p))
		}
		return r.n, nil
	}
}

// ReadExact implements Transport by polling short Read calls (bounded by the
// port's configured ReadTimeout) until n bytes accumulate, the deadline
// derived from timeout passes, or ctx is cancelled.
func (t *SerialTransport) ReadExact(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return nil, xerr.New(xerr.KindTransportIO, "transport.ReadExact", "port already closed")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		type result struct {
			n   int
			err error
		}
		done := make(chan result, 1)
		go func() {
			rn, err := port.Read(buf[:n-len(out)])
			done <- result{rn, err}
		}()
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return out, xerr.Wrapf(xerr.KindTransportIO, "transport.ReadExact", ErrTimeout, "timed out after %d of %d bytes", len(out), n)
			}
			return out, xerr.Wrap(xerr.KindCancelled, "transport.ReadExact", ctx.Err(), "read cancelled")
		case r := <-done:
			if r.err != nil && r.err != io.EOF {
				return out, xerr.Wrap(xerr.KindTransportIO, "transport.ReadExact", r.err, "serial read")
			}
			out = append(out, buf[:r.n]...)
		}
	}
	return out, nil
}

// Available implements Transport. github.com/tarm/serial does not expose an
// OS-level "bytes waiting" query, so this is a best-effort non-blocking
// probe: 0 always returns without error.
func (t *SerialTransport) Available() (int, error) {
	return 0, nil
}

// DiscardIn implements Transport.
func (t *SerialTransport) DiscardIn() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return xerr.New(xerr.KindTransportIO, "transport.DiscardIn", "port already closed")
	}
	if err := t.port.Flush(); err != nil {
		return xerr.Wrap(xerr.KindTransportIO, "transport.DiscardIn", err, "flush")
	}
	return nil
}

// DiscardOut implements Transport. tarm/serial has no distinct output-only
// flush, so this purges both directions like DiscardIn.
func (t *SerialTransport) DiscardOut() error {
	return t.DiscardIn()
}

// Close implements Transport.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return xerr.Wrap(xerr.KindTransportIO, "transport.Close", err, "close serial port")
	}
	return nil
}
