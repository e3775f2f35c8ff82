// Package association annotates radar detections with the ADS-B aircraft
// whose predicted bistatic delay and Doppler best explain them.
package association

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrLengthMismatch is returned for a detection whose delay, doppler and snr
// arrays differ in length.
var ErrLengthMismatch = errors.New("association: delay/doppler/snr length mismatch")

// Detection is one processing cycle's detection list. ADSB, once filled in,
// is index-aligned with Delay and holds nil where no aircraft matched.
type Detection struct {
	Timestamp int64     `json:"timestamp"` // epoch ms
	Delay     []float64 `json:"delay"`     // km
	Doppler   []float64 `json:"doppler"`   // Hz
	SNR       []float64 `json:"snr"`       // dB
	ADSB      []*Match  `json:"adsb,omitempty"`
}

// Len returns the number of detections in the batch.
func (d *Detection) Len() int { return len(d.Delay) }

// Validate checks the index-alignment invariant.
func (d *Detection) Validate() error {
	if len(d.Doppler) != len(d.Delay) || len(d.SNR) != len(d.Delay) {
		return fmt.Errorf("%w: %d/%d/%d", ErrLengthMismatch, len(d.Delay), len(d.Doppler), len(d.SNR))
	}
	return nil
}

// ParseDetection decodes and validates a detection document.
func ParseDetection(b []byte) (*Detection, error) {
	var d Detection
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode detection: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// ValidateDetection is ParseDetection without the result, for use as the
// detection channel's schema check.
func ValidateDetection(b []byte) error {
	_, err := ParseDetection(b)
	return err
}

// Match is a copy of the matched aircraft's state together with the
// predicted values and residuals, rounded to two decimal places.
type Match struct {
	Hex             string   `json:"hex"`
	Lat             *float64 `json:"lat"`
	Lon             *float64 `json:"lon"`
	AltBaro         *float64 `json:"alt_baro"`
	GS              *float64 `json:"gs"`
	Track           *float64 `json:"track"`
	ExpectedDelay   float64  `json:"expected_delay"`
	ExpectedDoppler float64  `json:"expected_doppler"`
	DelayResidual   float64  `json:"delay_residual"`
	DopplerResidual float64  `json:"doppler_residual"`
}
