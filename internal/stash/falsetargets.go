package stash

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
)

// FalseTarget is one simulated target injected by the capture simulator.
// Moving targets also carry their start range and Doppler rate.
type FalseTarget struct {
	ID           int      `json:"id"`
	Type         string   `json:"type"`
	Delay        float64  `json:"delay"`
	DelaySamples float64  `json:"delay_samples"`
	Range        float64  `json:"range"`
	StartRange   *float64 `json:"start_range,omitempty"`
	Doppler      float64  `json:"doppler"`
	DopplerRate  *float64 `json:"doppler_rate,omitempty"`
	RCS          float64  `json:"rcs"`
}

// FalseTargetList is a falsetargets channel document and the window's view.
type FalseTargetList struct {
	FalseTargets []FalseTarget `json:"false_targets"`
}

func decodeFalseTargets(body []byte) (*FalseTargetList, error) {
	var l FalseTargetList
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("decode falsetargets: %w", err)
	}
	if l.FalseTargets == nil {
		return nil, errors.New("decode falsetargets: missing false_targets")
	}
	for i, ft := range l.FalseTargets {
		if ft.Type == "" {
			return nil, fmt.Errorf("decode falsetargets: target %d has no type", i)
		}
	}
	return &l, nil
}

// ValidateFalseTargets is the falsetargets channel's schema check.
func ValidateFalseTargets(body []byte) error {
	_, err := decodeFalseTargets(body)
	return err
}

// FalseTargets keeps the simulator's latest false target list.
type FalseTargets struct {
	view atomic.Pointer[FalseTargetList]
}

// NewFalseTargets returns an empty false target window.
func NewFalseTargets() *FalseTargets { return &FalseTargets{} }

// Name implements Window.
func (f *FalseTargets) Name() string { return "falsetargets" }

// Update replaces the held list.
func (f *FalseTargets) Update(body []byte, _ int64) error {
	l, err := decodeFalseTargets(body)
	if err != nil {
		return err
	}
	f.view.Store(l)
	return nil
}

// Get returns the held list, or nil before the first update.
func (f *FalseTargets) Get() *FalseTargetList { return f.view.Load() }

// View implements Window.
func (f *FalseTargets) View() interface{} {
	if v := f.Get(); v != nil {
		return v
	}
	return &FalseTargetList{FalseTargets: []FalseTarget{}}
}
