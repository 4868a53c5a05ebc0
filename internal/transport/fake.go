package transport

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// FakeTransport is an in-memory loopback double used by engine tests in
// place of a real EDL device. It plays the role that
// chromiumos/tast/common/firmware/serial/test_utils.go's socat PTY pair
// plays for the teacher's serial tests, without forking an external process:
// writes from the test (simulating the device) are queued on In, and reads
// by the engine under test drain it; writes from the engine under test are
// appended to Out for assertions.
type FakeTransport struct {
	mu     sync.Mutex
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool
}

// NewFake returns a ready-to-use FakeTransport.
func NewFake() *FakeTransport {
	return &FakeTransport{}
}

// Feed appends bytes to the simulated device's outgoing stream, as if the
// device had just sent them on the wire.
func (f *FakeTransport) Feed(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in.Write(p)
}

// Written returns (and clears) everything the engine under test has written
// so far.
func (f *FakeTransport) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := append([]byte(nil), f.out.Bytes()...)
	f.out.Reset()
	return b
}

// Write implements Transport.
func (f *FakeTransport) Write(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, xerr.New(xerr.KindTransportIO, "fake.Write", "transport closed")
	}
	return f.out.Write(p)
}

// ReadExact implements Transport.
func (f *FakeTransport) ReadExact(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		if f.in.Len() >= n {
			buf := make([]byte, n)
			_, err := f.in.Read(buf)
			f.mu.Unlock()
			if err != nil {
				return nil, xerr.Wrap(xerr.KindTransportIO, "fake.ReadExact", err, "read")
			}
			return buf, nil
		}
		closed := f.closed
		have := f.in.Len()
		f.mu.Unlock()

		if closed {
			return nil, xerr.New(xerr.KindTransportIO, "fake.ReadExact", "transport closed")
		}
		if ctx.Err() != nil {
			return nil, xerr.Wrap(xerr.KindCancelled, "fake.ReadExact", ctx.Err(), "read cancelled")
		}
		if time.Now().After(deadline) {
			return nil, xerr.Wrapf(xerr.KindTransportIO, "fake.ReadExact", ErrTimeout, "timed out waiting for %d bytes, have %d", n, have)
		}
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Millisecond):
		}
	}
}

// Available implements Transport.
func (f *FakeTransport) Available() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.in.Len(), nil
}

// DiscardIn implements Transport.
func (f *FakeTransport) DiscardIn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in.Reset()
	return nil
}

// DiscardOut implements Transport.
func (f *FakeTransport) DiscardOut() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out.Reset()
	return nil
}

// Close implements Transport.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ Transport = (*FakeTransport)(nil)
var _ Transport = (*SerialTransport)(nil)
