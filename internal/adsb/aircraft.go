// Package adsb fetches and caches ADS-B aircraft positions from a tar1090
// instance. The cache is the ground truth the association engine matches
// radar detections against.
package adsb

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/passive.radar/internal/geometry"
	"github.com/banshee-data/passive.radar/internal/units"
)

// Altitude is a barometric altitude in feet. tar1090 reports aircraft on the
// ground as the string "ground", which decodes to 0.
type Altitude float64

// UnmarshalJSON accepts a number or the literal "ground".
func (a *Altitude) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*a = Altitude(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("alt_baro: %w", err)
	}
	if s != "ground" {
		return fmt.Errorf("alt_baro: unexpected value %q", s)
	}
	*a = 0
	return nil
}

// Aircraft is one entry of a tar1090 aircraft.json document. Fields the feed
// omitted are nil; zero is a valid reading.
type Aircraft struct {
	Hex      string    `json:"hex"`
	Flight   string    `json:"flight,omitempty"`
	Lat      *float64  `json:"lat,omitempty"`
	Lon      *float64  `json:"lon,omitempty"`
	AltBaro  *Altitude `json:"alt_baro,omitempty"`  // ft
	GS       *float64  `json:"gs,omitempty"`        // kn
	Track    *float64  `json:"track,omitempty"`     // deg
	GeomRate *float64  `json:"geom_rate,omitempty"` // ft/min
}

// HasPosition reports whether lat, lon and alt_baro are all present.
func (a Aircraft) HasPosition() bool {
	return a.Lat != nil && a.Lon != nil && a.AltBaro != nil
}

// Target converts the aircraft to SI units for the geometry engine.
func (a Aircraft) Target() geometry.Target {
	t := geometry.Target{
		Latitude:  a.Lat,
		Longitude: a.Lon,
		Track:     a.Track,
	}
	if a.AltBaro != nil {
		m := units.FeetToMetres(float64(*a.AltBaro))
		t.Altitude = &m
	}
	if a.GS != nil {
		v := units.KnotsToMPS(*a.GS)
		t.GroundSpeed = &v
	}
	if a.GeomRate != nil {
		v := units.FeetPerMinuteToMPS(*a.GeomRate)
		t.VerticalRate = &v
	}
	return t
}

// Feed is the top level of aircraft.json.
type Feed struct {
	Now      float64    `json:"now"`
	Messages int64      `json:"messages"`
	Aircraft []Aircraft `json:"aircraft"`
}
