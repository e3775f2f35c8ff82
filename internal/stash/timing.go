package stash

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

const (
	DefaultTimingCPI = 20
	DefaultIQDataCPI = 20
)

// reservedTimingKey reports keys that describe the process rather than a
// processing stage and are not windowed.
func reservedTimingKey(k string) bool {
	return k == "nCpi" || strings.HasPrefix(k, "uptime")
}

// Timing keeps a FIFO of the last n values of every non-reserved timing
// key. Values are kept as received, so stage names and other non-numeric
// fields survive alongside the durations.
type Timing struct {
	cpi    int
	series map[string]*Ring[json.RawMessage] // only touched by Update

	view atomic.Pointer[map[string][]json.RawMessage]
}

// NewTiming returns a timing window of depth cpi (DefaultTimingCPI if <= 0).
func NewTiming(cpi int) *Timing {
	if cpi <= 0 {
		cpi = DefaultTimingCPI
	}
	return &Timing{cpi: cpi, series: make(map[string]*Ring[json.RawMessage])}
}

// Name implements Window.
func (t *Timing) Name() string { return "timing" }

// Update appends each non-reserved key of a timing document to its series.
func (t *Timing) Update(body []byte, _ int64) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("decode timing: %w", err)
	}
	for k, raw := range doc {
		if reservedTimingKey(k) {
			continue
		}
		ring, ok := t.series[k]
		if !ok {
			ring = NewRing[json.RawMessage](t.cpi)
			t.series[k] = ring
		}
		ring.Push(raw)
	}

	out := make(map[string][]json.RawMessage, len(t.series))
	for k, r := range t.series {
		out[k] = r.Items()
	}
	t.view.Store(&out)
	return nil
}

// Get returns the current per-key series. The map is empty before the first
// update.
func (t *Timing) Get() map[string][]json.RawMessage {
	if v := t.view.Load(); v != nil {
		return *v
	}
	return map[string][]json.RawMessage{}
}

// View implements Window.
func (t *Timing) View() interface{} { return t.Get() }

// IQFrame is an IQ data document as published on the iqdata channel.
type IQFrame struct {
	Timestamp int64     `json:"timestamp"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Mean      float64   `json:"mean"`
	Frequency []float64 `json:"frequency"`
	Spectrum  []float64 `json:"spectrum"`
}

// ValidateIQData is the iqdata channel's schema check.
func ValidateIQData(body []byte) error {
	var f IQFrame
	if err := json.Unmarshal(body, &f); err != nil {
		return fmt.Errorf("decode iqdata: %w", err)
	}
	return nil
}

// Spectrum is the IQ data view: the latest scalar statistics with the last
// n frequency and spectrum vectors, oldest first. Extra carries the latest
// document's remaining fields, encoded alongside the known ones.
type Spectrum struct {
	Timestamp int64       `json:"timestamp"`
	Min       float64     `json:"min"`
	Max       float64     `json:"max"`
	Mean      float64     `json:"mean"`
	Frequency [][]float64 `json:"frequency"`
	Spectrum  [][]float64 `json:"spectrum"`

	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON implements json.Marshaler.
func (s Spectrum) MarshalJSON() ([]byte, error) {
	type plain Spectrum
	b, err := json.Marshal(plain(s))
	if err != nil || len(s.Extra) == 0 {
		return b, err
	}
	merged := make(map[string]json.RawMessage, len(s.Extra)+6)
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

var iqFrameKeys = map[string]bool{
	"timestamp": true, "min": true, "max": true, "mean": true, "frequency": true, "spectrum": true,
}

// IQData windows the spectrum and frequency vectors of the iqdata channel.
type IQData struct {
	frequency *Ring[[]float64]
	spectrum  *Ring[[]float64]

	view atomic.Pointer[Spectrum]
}

// NewIQData returns an iqdata window of depth cpi (DefaultIQDataCPI if <= 0).
func NewIQData(cpi int) *IQData {
	if cpi <= 0 {
		cpi = DefaultIQDataCPI
	}
	return &IQData{
		frequency: NewRing[[]float64](cpi),
		spectrum:  NewRing[[]float64](cpi),
	}
}

// Name implements Window.
func (q *IQData) Name() string { return "iqdata" }

// Update decodes an iqdata document and appends its vectors.
func (q *IQData) Update(body []byte, _ int64) error {
	var f IQFrame
	if err := json.Unmarshal(body, &f); err != nil {
		return fmt.Errorf("decode iqdata: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("decode iqdata: %w", err)
	}
	var extra map[string]json.RawMessage
	for k, v := range fields {
		if iqFrameKeys[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}

	q.frequency.Push(f.Frequency)
	q.spectrum.Push(f.Spectrum)

	q.view.Store(&Spectrum{
		Timestamp: f.Timestamp,
		Min:       f.Min,
		Max:       f.Max,
		Mean:      f.Mean,
		Frequency: q.frequency.Items(),
		Spectrum:  q.spectrum.Items(),
		Extra:     extra,
	})
	return nil
}

// Get returns the current view, or nil before the first update.
func (q *IQData) Get() *Spectrum { return q.view.Load() }

// View implements Window.
func (q *IQData) View() interface{} {
	if v := q.Get(); v != nil {
		return v
	}
	return struct{}{}
}
