package geometry

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/passive.radar/internal/units"
)

// MinRange is the near-field guard: Doppler is not predicted when the target
// is closer than this to either end of the baseline.
const MinRange = 100.0 // metres

// Target is a target state in SI units. Nil fields are unknown; a zero value
// is a valid measurement (sea level, due north, stationary).
type Target struct {
	Latitude     *float64 // degrees
	Longitude    *float64 // degrees
	Altitude     *float64 // metres
	GroundSpeed  *float64 // m/s
	Track        *float64 // degrees clockwise from true north
	VerticalRate *float64 // m/s, optional
}

// HasPosition reports whether latitude, longitude and altitude are all known.
func (t Target) HasPosition() bool {
	return t.Latitude != nil && t.Longitude != nil && t.Altitude != nil
}

// HasVelocity reports whether ground speed and track are both known.
func (t Target) HasVelocity() bool {
	return t.GroundSpeed != nil && t.Track != nil
}

// Baseline is a fixed receiver/transmitter pair with their ECEF positions
// precomputed.
type Baseline struct {
	Rx, Tx LLA

	rx, tx r3.Vec
	direct float64
}

// NewBaseline returns the bistatic baseline between rx and tx.
func NewBaseline(rx, tx LLA) *Baseline {
	b := &Baseline{Rx: rx, Tx: tx, rx: rx.ECEF(), tx: tx.ECEF()}
	b.direct = r3.Norm(r3.Sub(b.rx, b.tx))
	return b
}

// Length returns the direct-path receiver to transmitter distance in metres.
func (b *Baseline) Length() float64 { return b.direct }

// Delay returns the bistatic delay of t in kilometres: the excess path
// |t-rx| + |t-tx| - |rx-tx|. ok is false when the position is unknown.
func (b *Baseline) Delay(t Target) (km float64, ok bool) {
	if !t.HasPosition() {
		return 0, false
	}
	p := GeodeticToECEF(*t.Latitude, *t.Longitude, *t.Altitude)
	excess := r3.Norm(r3.Sub(p, b.rx)) + r3.Norm(r3.Sub(p, b.tx)) - b.direct
	return excess / units.MetresPerKilometre, true
}

// Doppler returns the bistatic Doppler shift of t in Hz for a carrier at
// fcHz. Positive values mean the bistatic range is closing. ok is false when
// position or velocity is unknown, or when t is within MinRange of either the
// receiver or the transmitter.
func (b *Baseline) Doppler(t Target, fcHz float64) (hz float64, ok bool) {
	if !t.HasPosition() || !t.HasVelocity() {
		return 0, false
	}
	lat, lon := *t.Latitude, *t.Longitude
	p := GeodeticToECEF(lat, lon, *t.Altitude)

	toRx := r3.Sub(b.rx, p)
	toTx := r3.Sub(b.tx, p)
	dRx, dTx := r3.Norm(toRx), r3.Norm(toTx)
	if dRx < MinRange || dTx < MinRange {
		return 0, false
	}

	v := velocityECEF(t, lat, lon)

	// range rate is the negative projection of velocity on the line of sight
	rateRx := -r3.Dot(v, r3.Scale(1/dRx, toRx))
	rateTx := -r3.Dot(v, r3.Scale(1/dTx, toTx))

	return -(rateRx + rateTx) / units.Wavelength(fcHz), true
}

func velocityECEF(t Target, latDeg, lonDeg float64) r3.Vec {
	sinTrk, cosTrk := sincosDeg(*t.Track)
	east := *t.GroundSpeed * sinTrk
	north := *t.GroundSpeed * cosTrk
	var up float64
	if t.VerticalRate != nil {
		up = *t.VerticalRate
	}
	return ENUToECEF(east, north, up, latDeg, lonDeg)
}

// BistaticDelay is the free-function form of Baseline.Delay.
func BistaticDelay(t Target, rx, tx LLA) (float64, bool) {
	return NewBaseline(rx, tx).Delay(t)
}

// BistaticDoppler is the free-function form of Baseline.Doppler.
func BistaticDoppler(t Target, rx, tx LLA, fcHz float64) (float64, bool) {
	return NewBaseline(rx, tx).Doppler(t, fcHz)
}
