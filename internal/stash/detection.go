package stash

import (
	"sync/atomic"
	"time"

	"github.com/banshee-data/passive.radar/internal/association"
	"github.com/banshee-data/passive.radar/internal/units"
)

const (
	DefaultDetectionCPI       = 100
	DefaultDetectionRetention = 300 * time.Second
)

// Trail is the flattened detection history: one entry per detection, with
// the timestamp of the batch it came from.
type Trail struct {
	Timestamp []int64   `json:"timestamp"`
	Delay     []float64 `json:"delay"`
	Doppler   []float64 `json:"doppler"`
}

// DetectionHistory holds recent detection batches, bounded either by count
// or by age relative to the current cycle timestamp.
type DetectionHistory struct {
	name      string
	batches   *Ring[*association.Detection]
	retention time.Duration

	view atomic.Pointer[Trail]
}

// NewDetectionHistory returns a count-bounded history of cpi batches
// (DefaultDetectionCPI if <= 0).
func NewDetectionHistory(cpi int) *DetectionHistory {
	if cpi <= 0 {
		cpi = DefaultDetectionCPI
	}
	return &DetectionHistory{name: "detection", batches: NewRing[*association.Detection](cpi)}
}

// NewTimedDetectionHistory returns a history that drops batches older than
// retention (DefaultDetectionRetention if <= 0).
func NewTimedDetectionHistory(retention time.Duration) *DetectionHistory {
	if retention <= 0 {
		retention = DefaultDetectionRetention
	}
	return &DetectionHistory{
		name:      "detection-time",
		batches:   NewRing[*association.Detection](0),
		retention: retention,
	}
}

// Name implements Window.
func (h *DetectionHistory) Name() string { return h.name }

// Update decodes a detection document, appends it, applies the eviction
// policy and republishes the flattened trail. cycle is the current
// timestamp-channel value in epoch ms.
func (h *DetectionHistory) Update(body []byte, cycle int64) error {
	det, err := association.ParseDetection(body)
	if err != nil {
		return err
	}
	h.batches.Push(det)

	if h.retention > 0 {
		limit := h.retention.Seconds()
		for {
			front, ok := h.batches.Front()
			if !ok || float64(cycle-front.Timestamp)/units.MillisecondsPerSecond <= limit {
				break
			}
			h.batches.PopFront()
		}
	}

	trail := &Trail{Timestamp: []int64{}, Delay: []float64{}, Doppler: []float64{}}
	h.batches.Each(func(d *association.Detection) {
		for i := range d.Delay {
			trail.Timestamp = append(trail.Timestamp, d.Timestamp)
			trail.Delay = append(trail.Delay, d.Delay[i])
			trail.Doppler = append(trail.Doppler, d.Doppler[i])
		}
	})
	h.view.Store(trail)
	return nil
}

// Get returns the current trail, or nil before the first update.
func (h *DetectionHistory) Get() *Trail { return h.view.Load() }

// View implements Window.
func (h *DetectionHistory) View() interface{} {
	if v := h.Get(); v != nil {
		return v
	}
	return &Trail{Timestamp: []int64{}, Delay: []float64{}, Doppler: []float64{}}
}
