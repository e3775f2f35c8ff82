package association

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/banshee-data/passive.radar/internal/adsb"
	"github.com/banshee-data/passive.radar/internal/monitoring"
	"github.com/banshee-data/passive.radar/internal/timeutil"
)

var logf = monitoring.Prefixed("association")

// AircraftSource supplies the current truth aircraft list. *adsb.Cache
// implements it.
type AircraftSource interface {
	Aircraft(ctx context.Context) []adsb.Aircraft
}

// Correlator runs association passes off the ingest path. One pass runs at a
// time; a detection submitted while a pass is running waits as the pending
// document, and a newer submission replaces it.
type Correlator struct {
	engine  *Engine
	source  AircraftSource
	publish func([]byte)
	clock   timeutil.Clock

	mu         sync.Mutex
	pending    []byte
	superseded int64
	wake       chan struct{}
}

// NewCorrelator returns a correlator that hands annotated documents to
// publish. publish is only ever called from the Run goroutine.
func NewCorrelator(engine *Engine, source AircraftSource, publish func([]byte)) *Correlator {
	return &Correlator{
		engine:  engine,
		source:  source,
		publish: publish,
		clock:   timeutil.RealClock{},
		wake:    make(chan struct{}, 1),
	}
}

// SetClock replaces the clock used to time association passes. It must be
// called before Run.
func (c *Correlator) SetClock(clock timeutil.Clock) {
	if clock != nil {
		c.clock = clock
	}
}

// Submit queues a complete detection document and returns immediately.
func (c *Correlator) Submit(doc []byte) {
	c.mu.Lock()
	if c.pending != nil {
		c.superseded++
		monitoring.CorrelationPasses.WithLabelValues("superseded").Inc()
	}
	c.pending = doc
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Superseded returns how many pending documents were replaced before a pass
// picked them up.
func (c *Correlator) Superseded() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.superseded
}

func (c *Correlator) take() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := c.pending
	c.pending = nil
	return doc
}

// Run processes submitted documents until ctx is cancelled.
func (c *Correlator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}
		doc := c.take()
		if doc == nil {
			continue
		}
		out, err := c.Process(ctx, doc)
		if err != nil {
			// previous published detection stays in place
			logf("dropping detection: %v", err)
			monitoring.CorrelationPasses.WithLabelValues("invalid").Inc()
			continue
		}
		c.publish(out)
	}
}

// Process runs one association pass over doc and returns the annotated
// document.
func (c *Correlator) Process(ctx context.Context, doc []byte) ([]byte, error) {
	start := c.clock.Now()
	det, err := ParseDetection(doc)
	if err != nil {
		return nil, err
	}

	aircraft := c.source.Aircraft(ctx)
	c.engine.Associate(det, aircraft)

	out, err := json.Marshal(det)
	if err != nil {
		return nil, fmt.Errorf("encode detection: %w", err)
	}

	monitoring.CorrelationDuration.Observe(c.clock.Since(start).Seconds())
	outcome := "unmatched"
	for _, m := range det.ADSB {
		if m != nil {
			outcome = "matched"
			break
		}
	}
	monitoring.CorrelationPasses.WithLabelValues(outcome).Inc()
	return out, nil
}
