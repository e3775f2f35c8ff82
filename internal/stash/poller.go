// Package stash turns per-cycle channel snapshots into rolling windows:
// max-hold maps, detection trails, and timing and spectrum histories.
package stash

import (
	"context"
	"time"

	"github.com/banshee-data/passive.radar/internal/ingest"
	"github.com/banshee-data/passive.radar/internal/monitoring"
	"github.com/banshee-data/passive.radar/internal/timeutil"
)

// DefaultPollInterval is how often the poller checks for a new cycle.
const DefaultPollInterval = 100 * time.Millisecond

var logf = monitoring.Prefixed("stash")

// Source is a channel's published slot. *ingest.Channel implements it.
type Source interface {
	Latest() *ingest.Document
}

// Window is a rolling aggregate over one source. Update is only called from
// the poller goroutine; View may be called from anywhere and returns the
// last completed view.
type Window interface {
	Name() string
	Update(body []byte, cycle int64) error
	View() interface{}
}

// CycleDetector reports when the timestamp channel moves to a new
// processing cycle.
type CycleDetector struct {
	last int64
	seen bool
}

// Observe returns the cycle timestamp in doc and whether it differs from the
// previously observed one. A nil or unparsable doc is never a change.
func (d *CycleDetector) Observe(doc *ingest.Document) (int64, bool) {
	if doc == nil {
		return d.last, false
	}
	ts, err := ingest.ParseTimestamp(doc.Body)
	if err != nil {
		return d.last, false
	}
	if d.seen && ts == d.last {
		return ts, false
	}
	d.last, d.seen = ts, true
	return ts, true
}

type entry struct {
	window  Window
	source  Source
	armed   bool
	lastSeq uint64
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Timestamp Source
	Clock     timeutil.Clock
	Interval  time.Duration
}

// Poller drives every window from one ticker. A new cycle arms each window;
// an armed window consumes its source's document once that document is newer
// than the last one it consumed. A source that publishes after the
// timestamp (detections pass through the correlator) is still picked up
// within the cycle, and a source that did not publish is not counted twice.
type Poller struct {
	timestamp Source
	clock     timeutil.Clock
	interval  time.Duration

	cycle   CycleDetector
	current int64
	entries []*entry
}

// NewPoller returns a poller with no windows.
func NewPoller(cfg PollerConfig) *Poller {
	p := &Poller{
		timestamp: cfg.Timestamp,
		clock:     cfg.Clock,
		interval:  cfg.Interval,
	}
	if p.clock == nil {
		p.clock = timeutil.RealClock{}
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	return p
}

// Add registers w fed from src. Add must not be called once Run has started.
func (p *Poller) Add(w Window, src Source) {
	p.entries = append(p.entries, &entry{window: w, source: src})
}

// Poll performs one tick.
func (p *Poller) Poll() {
	if ts, changed := p.cycle.Observe(p.timestamp.Latest()); changed {
		p.current = ts
		for _, e := range p.entries {
			e.armed = true
		}
	}

	for _, e := range p.entries {
		if !e.armed {
			continue
		}
		doc := e.source.Latest()
		if doc == nil || doc.Seq == e.lastSeq {
			continue
		}
		e.armed = false
		e.lastSeq = doc.Seq

		name := e.window.Name()
		if err := e.window.Update(doc.Body, p.current); err != nil {
			// the window keeps its previous view
			logf("%s: %v", name, err)
			monitoring.StashUpdates.WithLabelValues(name, "error").Inc()
			continue
		}
		monitoring.StashUpdates.WithLabelValues(name, "ok").Inc()
	}
}

// Run polls on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			p.Poll()
		}
	}
}
