package stash

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"
)

// DefaultMapCPI is the number of maps held by the max-hold window.
const DefaultMapCPI = 20

// ErrRaggedMap is returned for a map whose rows differ in length.
var ErrRaggedMap = errors.New("stash: ragged map data")

// Map is a range-Doppler power map as published on the map channel. Data is
// indexed [doppler bin][delay bin].
type Map struct {
	Timestamp  int64       `json:"timestamp"`
	NRows      int         `json:"nRows"`
	NCols      int         `json:"nCols"`
	NoisePower float64     `json:"noisePower"`
	MaxPower   float64     `json:"maxPower"`
	Delay      []float64   `json:"delay"`
	Doppler    []float64   `json:"doppler"`
	Data       [][]float64 `json:"data"`
}

// MaxHold keeps the last n maps and publishes their elementwise maximum.
// Each update recomputes the view across every held map.
type MaxHold struct {
	frames     *Ring[[][]float64]
	rows, cols int

	view atomic.Pointer[Map]
}

// NewMaxHold returns a max-hold window of depth cpi (DefaultMapCPI if <= 0).
func NewMaxHold(cpi int) *MaxHold {
	if cpi <= 0 {
		cpi = DefaultMapCPI
	}
	return &MaxHold{frames: NewRing[[][]float64](cpi)}
}

// Name implements Window.
func (m *MaxHold) Name() string { return "map" }

// decodeMap decodes a map document and checks that its data is a
// non-empty rectangular matrix.
func decodeMap(body []byte) (*Map, int, int, error) {
	var frame Map
	if err := json.Unmarshal(body, &frame); err != nil {
		return nil, 0, 0, fmt.Errorf("decode map: %w", err)
	}
	rows := len(frame.Data)
	if rows == 0 {
		return nil, 0, 0, fmt.Errorf("%w: no rows", ErrRaggedMap)
	}
	cols := len(frame.Data[0])
	for i, row := range frame.Data {
		if len(row) != cols {
			return nil, 0, 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrRaggedMap, i, len(row), cols)
		}
	}
	return &frame, rows, cols, nil
}

// ValidateMap is the map channel's schema check.
func ValidateMap(body []byte) error {
	_, _, _, err := decodeMap(body)
	return err
}

// Update decodes a map document and folds it into the window. A map whose
// shape differs from the held maps restarts the window.
func (m *MaxHold) Update(body []byte, _ int64) error {
	frame, rows, cols, err := decodeMap(body)
	if err != nil {
		return err
	}

	if rows != m.rows || cols != m.cols {
		m.frames.Clear()
		m.rows, m.cols = rows, cols
	}
	m.frames.Push(frame.Data)

	frame.Data = maxHold(m.frames.Items(), rows, cols)
	frame.NRows, frame.NCols = rows, cols
	frame.MaxPower = math.Inf(-1)
	for _, row := range frame.Data {
		frame.MaxPower = math.Max(frame.MaxPower, floats.Max(row))
	}
	m.view.Store(frame)
	return nil
}

func maxHold(frames [][][]float64, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		row := make([]float64, cols)
		copy(row, frames[0][i])
		for _, f := range frames[1:] {
			for j, v := range f[i] {
				if v > row[j] {
					row[j] = v
				}
			}
		}
		out[i] = row
	}
	return out
}

// Get returns the current max-hold map, or nil before the first update.
func (m *MaxHold) Get() *Map { return m.view.Load() }

// View implements Window.
func (m *MaxHold) View() interface{} {
	if v := m.Get(); v != nil {
		return v
	}
	return struct{}{}
}
