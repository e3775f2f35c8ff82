// Package units converts the aviation units reported by ADS-B feeds into SI.
package units

// Conversion factors to SI units.
const (
	MetresPerFoot         = 0.3048
	MPSPerKnot            = 0.514444
	MPSPerFootPerMinute   = 0.00508
	MetresPerKilometre    = 1000.0
	MillisecondsPerSecond = 1000.0
	SpeedOfLight          = 299792458.0 // m/s
)

// FeetToMetres converts a barometric or geometric altitude in feet to metres.
func FeetToMetres(ft float64) float64 { return ft * MetresPerFoot }

// KnotsToMPS converts a ground speed in knots to metres per second.
func KnotsToMPS(kn float64) float64 { return kn * MPSPerKnot }

// FeetPerMinuteToMPS converts a vertical rate in ft/min to metres per second.
func FeetPerMinuteToMPS(fpm float64) float64 { return fpm * MPSPerFootPerMinute }

// Wavelength returns the wavelength in metres of a carrier at fcHz.
func Wavelength(fcHz float64) float64 { return SpeedOfLight / fcHz }
