package ingest

import (
	"errors"
	"fmt"
)

// ErrBufferOverflow is returned when a partial document grows past the
// framer's size cap. The buffered bytes are discarded.
var ErrBufferOverflow = errors.New("ingest: document exceeds buffer cap")

// DefaultMaxDocumentBytes caps a single framed document.
const DefaultMaxDocumentBytes = 64 << 20

// sentinel terminates every JSON document on the sentinel-framed channels.
const sentinel = '}'

// FramerState is the state of a Framer.
type FramerState int

const (
	// Accumulating appends chunks until one ends with the sentinel.
	Accumulating FramerState = iota
	// Resync discards chunks until one ends with the sentinel, after an
	// overflow left the stream at an unknown offset.
	Resync
)

func (s FramerState) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Resync:
		return "resync"
	default:
		return fmt.Sprintf("FramerState(%d)", int(s))
	}
}

// Framer turns a byte stream into documents. A document is complete when the
// last byte of a received chunk is '}'. In per-chunk mode every non-empty
// chunk is a document on its own.
//
// The sentinel check is a heuristic: a chunk boundary that happens to fall
// straight after a '}' inside the payload publishes a truncated document,
// which then fails validation. Framer is not safe for concurrent use.
type Framer struct {
	buf      []byte
	max      int
	perChunk bool
	state    FramerState
}

// NewFramer returns a framer capped at maxBytes; maxBytes <= 0 takes
// DefaultMaxDocumentBytes.
func NewFramer(maxBytes int, perChunk bool) *Framer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	return &Framer{max: maxBytes, perChunk: perChunk}
}

// Write consumes one received chunk. It returns the completed document, if
// this chunk completed one, or ErrBufferOverflow if the cap was exceeded.
// The returned slice is owned by the caller.
func (f *Framer) Write(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, nil
	}

	if f.perChunk {
		if len(chunk) > f.max {
			return nil, fmt.Errorf("%w: %d bytes", ErrBufferOverflow, len(chunk))
		}
		return append([]byte(nil), chunk...), nil
	}

	terminated := chunk[len(chunk)-1] == sentinel

	if f.state == Resync {
		if terminated {
			f.state = Accumulating
		}
		return nil, nil
	}

	if len(f.buf)+len(chunk) > f.max {
		size := len(f.buf) + len(chunk)
		f.buf = nil
		f.state = Resync
		if terminated {
			f.state = Accumulating
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrBufferOverflow, size)
	}

	f.buf = append(f.buf, chunk...)
	if !terminated {
		return nil, nil
	}
	doc := f.buf
	f.buf = nil
	return doc, nil
}

// Reset discards any partial document and returns to Accumulating.
func (f *Framer) Reset() {
	f.buf = nil
	f.state = Accumulating
}

// Buffered returns the number of bytes held for the current partial document.
func (f *Framer) Buffered() int { return len(f.buf) }

// State returns the current framing state.
func (f *Framer) State() FramerState { return f.state }
