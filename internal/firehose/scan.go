package firehose

import (
	"bytes"
	"context"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// probeBufSize caps how many bytes readEnvelope accumulates while scanning
// for a terminator. Envelopes are read in bursts of at most 4096 bytes; there
// is no single large probe read.
const probeBufSize = 256 << 10

var (
	patternRawMode   = []byte(`rawmode="true"`)
	patternDataClose = []byte(`</data>`)
	patternACK       = []byte(`value="ACK"`)
)

func indexOf(haystack, needle []byte) int {
	return bytes.Index(haystack, needle)
}

// drainResult is the outcome of scanning one device reply: whether it
// announced rawmode (a data payload follows before the terminal ACK), and
// whether the terminal response element, once read, was an ACK or NAK.
type drainResult struct {
	envelope []byte // the `<data>...</data>` bytes seen before any rawmode payload
	rawMode  bool
	ack      bool
	resp     *responseElement

	// overflow holds bytes already read past the envelope terminator —
	// e.g. leading data payload bytes the device wrote in the same burst
	// as the rawmode announcement. Callers that go on to read a raw
	// payload must consume overflow first before issuing further reads.
	overflow []byte
}

// readEnvelope reads from the transport in small bursts until it has seen
// either a rawmode announcement or the `</data>` that closes the envelope
// holding the response element (envelopes carrying only log elements are
// absorbed into it), per spec.md §4.7's byte-level scan for
// `rawmode="true"`, `</data>`, `ACK`, `NAK`.
//
// It does not attempt to decode XML incrementally: it accumulates raw bytes
// and runs bytes.Index against the accumulated buffer after each read,
// exactly the Boyer-Moore-like byte scan the source's own docs call for
// rather than per-byte UTF-8 decoding.
func (e *Engine) readEnvelope(ctx context.Context) (drainResult, error) {
	const burstSize = 4096
	var buf bytes.Buffer

	for {
		if ctx.Err() != nil {
			return drainResult{}, xerr.Wrap(xerr.KindCancelled, "firehose.readEnvelope", ctx.Err(), "cancelled")
		}
		n, err := e.t.Available()
		if err != nil {
			return drainResult{}, xerr.Wrap(xerr.KindTransportIO, "firehose.readEnvelope", err, "available")
		}
		readLen := 1
		if n > 0 {
			readLen = n
		}
		if readLen > burstSize {
			readLen = burstSize
		}
		b, err := e.t.ReadExact(ctx, readLen, e.ackTimeout)
		if err != nil {
			return drainResult{}, err
		}
		buf.Write(b)

		if idx := indexOf(buf.Bytes(), patternRawMode); idx >= 0 {
			if closeIdx := indexOf(buf.Bytes()[idx:], []byte("/>")); closeIdx >= 0 {
				cut := idx + closeIdx + 2
				// The device closes </data> immediately after the rawmode
				// response element, still ahead of the raw payload itself
				// (spec.md §8 scenario 4) — absorb it into the envelope so
				// it never leaks into overflow as payload bytes.
				if bytes.HasPrefix(buf.Bytes()[cut:], patternDataClose) {
					cut += len(patternDataClose)
				}
				envelope := append([]byte(nil), buf.Bytes()[:cut]...)
				var overflow []byte
				if buf.Len() > cut {
					overflow = append([]byte(nil), buf.Bytes()[cut:]...)
				}
				return drainResult{envelope: envelope, rawMode: true, overflow: overflow}, nil
			}
			continue
		}
		respIdx := indexOf(buf.Bytes(), []byte("<response"))
		closeIdx := -1
		if respIdx >= 0 {
			closeIdx = indexOf(buf.Bytes()[respIdx:], patternDataClose)
		}
		if closeIdx >= 0 {
			idx := respIdx + closeIdx
			envelope := append([]byte(nil), buf.Bytes()[:idx+len(patternDataClose)]...)
			resp, err := parseResponseAttrs(envelope)
			if err != nil {
				return drainResult{}, err
			}
			return drainResult{
				envelope: envelope,
				ack:      bytes.Contains(envelope, patternACK),
				resp:     resp,
			}, nil
		}
		if buf.Len() > probeBufSize {
			return drainResult{}, xerr.New(xerr.KindProtocolViolation, "firehose.readEnvelope", "response envelope exceeded probe buffer without a terminator")
		}
	}
}

// readFinalACK reads envelopes until it sees the terminal (non-rawmode)
// response element, classifying a NAK via errors.go's taxonomy.
func (e *Engine) readFinalACK(ctx context.Context) (*responseElement, error) {
	for {
		d, err := e.readEnvelope(ctx)
		if err != nil {
			return nil, err
		}
		if d.rawMode {
			// A stray rawmode announcement with no caller draining its
			// payload is a protocol violation: the caller is expected to
			// have consumed it via sendAndAwaitRawMode.
			return nil, xerr.New(xerr.KindProtocolViolation, "firehose.readFinalACK", "unexpected rawmode announcement")
		}
		if d.resp == nil {
			continue
		}
		if !d.ack {
			return d.resp, classifyNAK(d.resp.Error)
		}
		return d.resp, nil
	}
}

// sendCommand marshals directive, writes it, and waits for the terminal
// ACK/NAK envelope — used by every non-data-bearing directive (erase,
// patch, setactiveslot, fixgpt, ufs).
func (e *Engine) sendCommand(ctx context.Context, directive interface{}) (*responseElement, error) {
	body, err := marshalRequest(directive)
	if err != nil {
		return nil, err
	}
	if _, err := e.t.Write(ctx, body); err != nil {
		return nil, xerr.Wrap(xerr.KindTransportIO, "firehose.sendCommand", err, "write directive")
	}
	return e.readFinalACK(ctx)
}

// sendAndAwaitRawMode marshals directive, writes it, and waits for the
// rawmode="true" announcement — used by read/program directives that are
// followed by a raw data payload. Any payload bytes the device already sent
// in the same burst as the announcement are returned as overflow and must
// be consumed before further reads.
func (e *Engine) sendAndAwaitRawMode(ctx context.Context, directive interface{}) (overflow []byte, err error) {
	body, err := marshalRequest(directive)
	if err != nil {
		return nil, err
	}
	if _, err := e.t.Write(ctx, body); err != nil {
		return nil, xerr.Wrap(xerr.KindTransportIO, "firehose.sendAndAwaitRawMode", err, "write directive")
	}
	d, err := e.readEnvelope(ctx)
	if err != nil {
		return nil, err
	}
	if !d.rawMode {
		if d.resp != nil && !d.ack {
			return nil, classifyNAK(d.resp.Error)
		}
		return nil, xerr.New(xerr.KindProtocolViolation, "firehose.sendAndAwaitRawMode", "device did not announce rawmode")
	}
	return d.overflow, nil
}

// drainRawPayload reads exactly n bytes of a rawmode payload, consuming
// previously buffered overflow first. It is used both by the read path (to
// capture data) and by cancellation cleanup (to leave the transport in a
// consistent state per spec.md §5).
func (e *Engine) drainRawPayload(ctx context.Context, n int, overflow []byte) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]byte, 0, n)
	if len(overflow) > 0 {
		take := overflow
		if len(take) > n {
			take = take[:n]
		}
		out = append(out, take...)
	}
	if len(out) >= n {
		return out[:n], nil
	}
	b, err := e.t.ReadExact(ctx, n-len(out), e.readTimeout)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindTransportIO, "firehose.drainRawPayload", err, "read raw payload")
	}
	out = append(out, b...)
	return out, nil
}
