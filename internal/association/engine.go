package association

import (
	"math"

	"github.com/banshee-data/passive.radar/internal/adsb"
	"github.com/banshee-data/passive.radar/internal/geometry"
)

const (
	DefaultDelayTolerance   = 2.0 // km
	DefaultDopplerTolerance = 5.0 // Hz
)

// Config holds the fixed site geometry and the gating tolerances. Zero or
// negative tolerances take the defaults.
type Config struct {
	Rx               geometry.LLA
	Tx               geometry.LLA
	CarrierHz        float64
	DelayTolerance   float64 // km
	DopplerTolerance float64 // Hz
}

// Engine matches detections against an aircraft list. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	baseline   *geometry.Baseline
	fc         float64
	delayTol   float64
	dopplerTol float64
}

// NewEngine precomputes the baseline for cfg.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		baseline:   geometry.NewBaseline(cfg.Rx, cfg.Tx),
		fc:         cfg.CarrierHz,
		delayTol:   cfg.DelayTolerance,
		dopplerTol: cfg.DopplerTolerance,
	}
	if e.delayTol <= 0 {
		e.delayTol = DefaultDelayTolerance
	}
	if e.dopplerTol <= 0 {
		e.dopplerTol = DefaultDopplerTolerance
	}
	return e
}

// Tolerances returns the delay (km) and Doppler (Hz) gates in use.
func (e *Engine) Tolerances() (delay, doppler float64) { return e.delayTol, e.dopplerTol }

type prediction struct {
	aircraft *adsb.Aircraft
	delay    float64
	doppler  float64
}

// predict computes expected delay and Doppler for every aircraft with a
// usable position and velocity, keeping input order.
func (e *Engine) predict(aircraft []adsb.Aircraft) []prediction {
	out := make([]prediction, 0, len(aircraft))
	for i := range aircraft {
		a := &aircraft[i]
		if !a.HasPosition() {
			continue
		}
		t := a.Target()
		delay, ok := e.baseline.Delay(t)
		if !ok {
			continue
		}
		doppler, ok := e.baseline.Doppler(t, e.fc)
		if !ok {
			continue
		}
		out = append(out, prediction{aircraft: a, delay: delay, doppler: doppler})
	}
	return out
}

// Associate fills det.ADSB with one entry per detection: the aircraft inside
// both gates with the lowest normalised residual, or nil. Ties go to the
// aircraft listed first. det is modified in place and returned.
func (e *Engine) Associate(det *Detection, aircraft []adsb.Aircraft) *Detection {
	preds := e.predict(aircraft)
	det.ADSB = make([]*Match, det.Len())

	for i := range det.Delay {
		best := -1
		bestScore := math.Inf(1)
		for j, p := range preds {
			delayErr := math.Abs(det.Delay[i] - p.delay)
			dopplerErr := math.Abs(det.Doppler[i] - p.doppler)
			if delayErr >= e.delayTol || dopplerErr >= e.dopplerTol {
				continue
			}
			score := delayErr/e.delayTol + dopplerErr/e.dopplerTol
			if score < bestScore {
				best, bestScore = j, score
			}
		}
		if best >= 0 {
			det.ADSB[i] = newMatch(preds[best], det.Delay[i], det.Doppler[i])
		}
	}
	return det
}

func newMatch(p prediction, delay, doppler float64) *Match {
	a := p.aircraft
	m := &Match{
		Hex:             a.Hex,
		Lat:             copyFloat(a.Lat),
		Lon:             copyFloat(a.Lon),
		GS:              copyFloat(a.GS),
		Track:           copyFloat(a.Track),
		ExpectedDelay:   round2(p.delay),
		ExpectedDoppler: round2(p.doppler),
		DelayResidual:   round2(delay - p.delay),
		DopplerResidual: round2(doppler - p.doppler),
	}
	if a.AltBaro != nil {
		alt := float64(*a.AltBaro)
		m.AltBaro = &alt
	}
	return m
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
