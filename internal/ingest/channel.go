// Package ingest receives the pipeline's sentinel-framed JSON streams, one
// TCP port per channel, and publishes the latest complete document of each.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/banshee-data/passive.radar/internal/monitoring"
	"github.com/banshee-data/passive.radar/internal/timeutil"
)

// ErrUnknownChannel is returned for a channel name outside Names.
var ErrUnknownChannel = errors.New("ingest: unknown channel")

// Name identifies a pipeline channel.
type Name string

const (
	Map       Name = "map"
	Detection Name = "detection"
	Track     Name = "track"
	Timestamp Name = "timestamp"
	Timing    Name = "timing"
	IQData    Name = "iqdata"

	FalseTargets Name = "falsetargets"
)

// Names lists every channel in a stable order.
var Names = []Name{Map, Detection, Track, Timestamp, Timing, IQData, FalseTargets}

// ParseName validates s as a channel name.
func ParseName(s string) (Name, error) {
	for _, n := range Names {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

// Document is one published document. Documents are immutable once
// published; readers may hold on to them.
type Document struct {
	Body     []byte
	Received time.Time
	Seq      uint64
}

// Validator checks a framed document against its channel's schema. A
// non-nil error keeps the previously published document.
type Validator func(doc []byte) error

// JSONObject accepts any JSON object.
func JSONObject(doc []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		return fmt.Errorf("not a JSON object: %w", err)
	}
	if obj == nil {
		return errors.New("not a JSON object: null")
	}
	return nil
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	MaxDocumentBytes int
	Clock            timeutil.Clock

	// Validators holds the schema check per channel. Channels without one
	// only need well-formed JSON; the timestamp channel always needs an
	// integer.
	Validators map[Name]Validator
}

// Channel owns one stream's partial-receive buffer and its published slot.
// Writers go through Feed; any number of readers may call Latest.
type Channel struct {
	name      Name
	clock     timeutil.Clock
	validator Validator

	feedMu sync.Mutex
	framer *Framer

	latest atomic.Pointer[Document]
	seq    atomic.Uint64

	sinkMu sync.RWMutex
	sink   func([]byte)

	subscriberMu sync.Mutex
	subscribers  map[string]chan *Document

	// session ID to remote address, written by connection goroutines
	peers *xsync.MapOf[string, string]
}

// NewChannel returns an empty channel. The timestamp channel frames per
// chunk; every other channel frames on the closing brace.
func NewChannel(name Name, cfg ChannelConfig) *Channel {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Channel{
		name:        name,
		clock:       clock,
		validator:   cfg.Validators[name],
		framer:      NewFramer(cfg.MaxDocumentBytes, name == Timestamp),
		subscribers: make(map[string]chan *Document),
		peers:       xsync.NewMapOf[string, string](),
	}
}

// Name returns the channel name.
func (c *Channel) Name() Name { return c.name }

// SetSink diverts completed documents to fn instead of publishing them. The
// detection channel uses this to route documents through the correlator,
// which publishes the annotated result.
func (c *Channel) SetSink(fn func([]byte)) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.sink = fn
}

// Feed appends a received chunk and handles any document it completes.
func (c *Channel) Feed(chunk []byte) {
	monitoring.BytesReceived.WithLabelValues(string(c.name)).Add(float64(len(chunk)))

	c.feedMu.Lock()
	doc, err := c.framer.Write(chunk)
	c.feedMu.Unlock()

	if err != nil {
		logf("%s: %v; discarding partial document and resyncing", c.name, err)
		monitoring.DocumentsRejected.WithLabelValues(string(c.name), "overflow").Inc()
		return
	}
	if doc == nil {
		return
	}
	if err := c.validate(doc); err != nil {
		logf("%s: keeping previous document: %v", c.name, err)
		monitoring.DocumentsRejected.WithLabelValues(string(c.name), "malformed").Inc()
		return
	}

	c.sinkMu.RLock()
	sink := c.sink
	c.sinkMu.RUnlock()
	if sink != nil {
		sink(doc)
		return
	}
	c.Publish(doc)
}

func (c *Channel) validate(doc []byte) error {
	if c.name == Timestamp {
		_, err := ParseTimestamp(doc)
		return err
	}
	if !json.Valid(doc) {
		return fmt.Errorf("invalid JSON (%d bytes)", len(doc))
	}
	if c.validator != nil {
		return c.validator(doc)
	}
	return nil
}

// ParseTimestamp decodes a timestamp channel document: decimal epoch
// milliseconds, surrounding whitespace ignored.
func ParseTimestamp(b []byte) (int64, error) {
	ts, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp: %w", err)
	}
	return ts, nil
}

// Publish replaces the published document with body. body must not be
// modified afterwards.
func (c *Channel) Publish(body []byte) {
	doc := &Document{
		Body:     body,
		Received: c.clock.Now(),
		Seq:      c.seq.Add(1),
	}
	c.latest.Store(doc)
	monitoring.DocumentsPublished.WithLabelValues(string(c.name)).Inc()

	c.subscriberMu.Lock()
	for _, ch := range c.subscribers {
		select {
		case ch <- doc:
		default:
			// slow subscriber; skip rather than stall the writer
		}
	}
	c.subscriberMu.Unlock()
}

// Latest returns the published document, or nil before the first one.
func (c *Channel) Latest() *Document {
	return c.latest.Load()
}

// Body returns the published document body, or nil before the first one.
func (c *Channel) Body() []byte {
	if d := c.latest.Load(); d != nil {
		return d.Body
	}
	return nil
}

// ResetBuffer discards any partial document.
func (c *Channel) ResetBuffer() {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	c.framer.Reset()
}

// BufferState reports the partial-buffer size and framing state.
func (c *Channel) BufferState() (int, FramerState) {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	return c.framer.Buffered(), c.framer.State()
}

// Subscribe returns a channel receiving every published document. The ID
// is used to unsubscribe.
func (c *Channel) Subscribe() (string, chan *Document) {
	id := uuid.NewString()
	ch := make(chan *Document, 4)
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (c *Channel) Unsubscribe(id string) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
	}
}

// Peers returns the remote addresses of the connected pipeline sessions,
// keyed by session ID.
func (c *Channel) Peers() map[string]string {
	peers := make(map[string]string, c.peers.Size())
	c.peers.Range(func(session, addr string) bool {
		peers[session] = addr
		return true
	})
	return peers
}

func (c *Channel) addPeer(session, addr string) { c.peers.Store(session, addr) }

func (c *Channel) removePeer(session string) { c.peers.Delete(session) }
