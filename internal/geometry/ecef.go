// Package geometry converts between geodetic and earth-centred earth-fixed
// (ECEF) coordinates on the WGS-84 ellipsoid and predicts the bistatic delay
// and Doppler a passive radar should observe for a target.
//
// All functions are pure. Invalid input (NaN, out of range angles) is not
// rejected; NaN propagates to the result and callers validate upstream.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// WGS-84 ellipsoid parameters.
const (
	SemiMajorAxis = 6378137.0
	Flattening    = 1.0 / 298.257223563

	semiMinorAxis = SemiMajorAxis * (1 - Flattening)
	eccSq         = 2*Flattening - Flattening*Flattening
	// second eccentricity squared
	eccPrimeSq = (SemiMajorAxis*SemiMajorAxis - semiMinorAxis*semiMinorAxis) / (semiMinorAxis * semiMinorAxis)
)

const degToRad = math.Pi / 180

// LLA is a geodetic position: latitude and longitude in degrees, altitude in
// metres above the ellipsoid.
type LLA struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Altitude  float64 `json:"altitude" yaml:"altitude"`
}

// ECEF returns the earth-centred position of p.
func (p LLA) ECEF() r3.Vec {
	return GeodeticToECEF(p.Latitude, p.Longitude, p.Altitude)
}

// GeodeticToECEF converts a WGS-84 geodetic position to ECEF metres.
func GeodeticToECEF(latDeg, lonDeg, altM float64) r3.Vec {
	sinLat, cosLat := sincosDeg(latDeg)
	sinLon, cosLon := sincosDeg(lonDeg)

	n := SemiMajorAxis / math.Sqrt(1-eccSq*sinLat*sinLat)
	return r3.Vec{
		X: (n + altM) * cosLat * cosLon,
		Y: (n + altM) * cosLat * sinLon,
		Z: (n*(1-eccSq) + altM) * sinLat,
	}
}

// ECEFToGeodetic converts ECEF metres back to a geodetic position using
// Heikkinen's closed-form solution (millimetre accuracy near the surface).
func ECEFToGeodetic(v r3.Vec) LLA {
	a, b := SemiMajorAxis, semiMinorAxis
	p := math.Hypot(v.X, v.Y)
	zz := v.Z * v.Z

	f := 54 * b * b * zz
	g := p*p + (1-eccSq)*zz - eccSq*(a*a-b*b)
	c := eccSq * eccSq * f * p * p / (g * g * g)
	s := math.Cbrt(1 + c + math.Sqrt(c*c+2*c))
	k := s + 1 + 1/s
	pp := f / (3 * k * k * g * g)
	q := math.Sqrt(1 + 2*eccSq*eccSq*pp)
	r0 := -(pp*eccSq*p)/(1+q) +
		math.Sqrt(a*a/2*(1+1/q)-pp*(1-eccSq)*zz/(q*(1+q))-pp*p*p/2)
	u := math.Sqrt((p-eccSq*r0)*(p-eccSq*r0) + zz)
	w := math.Sqrt((p-eccSq*r0)*(p-eccSq*r0) + (1-eccSq)*zz)
	z0 := b * b * v.Z / (a * w)

	return LLA{
		Latitude:  math.Atan2(v.Z+eccPrimeSq*z0, p) / degToRad,
		Longitude: math.Atan2(v.Y, v.X) / degToRad,
		Altitude:  u * (1 - b*b/(a*w)),
	}
}

// ENUToECEF rotates a local east-north-up vector at the given geodetic
// latitude/longitude into the ECEF frame.
func ENUToECEF(east, north, up, latDeg, lonDeg float64) r3.Vec {
	sinLat, cosLat := sincosDeg(latDeg)
	sinLon, cosLon := sincosDeg(lonDeg)
	return r3.Vec{
		X: -sinLon*east - sinLat*cosLon*north + cosLat*cosLon*up,
		Y: cosLon*east - sinLat*sinLon*north + cosLat*sinLon*up,
		Z: cosLat*north + sinLat*up,
	}
}

func sincosDeg(deg float64) (sin, cos float64) {
	return math.Sincos(deg * degToRad)
}
