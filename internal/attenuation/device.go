package attenuation

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrDeviceRead aborts a control pass.
	ErrDeviceRead = errors.New("read equaliser gains")

	// ErrDeviceWrite is attached to a Change whose write failed. The pass
	// continues with the remaining bands.
	ErrDeviceWrite = errors.New("write equaliser gain")
)

// Gain is one graphic equaliser band as reported by the device.
type Gain struct {
	Band      int     `json:"bandId"`
	Frequency float64 `json:"frequency"`
	Level     float64 `json:"level"`
}

// Device is the capability the controller needs from the equaliser.
type Device interface {
	// ReadGains returns the full gain table of the controlled input.
	ReadGains(ctx context.Context) ([]Gain, error)

	// WriteGain sets one band of a channel to level dB.
	WriteGain(ctx context.Context, channel int, frequency, level float64) error
}

// frequencyTolerance is the relative distance within which a device band
// is taken to be a given centre frequency. Third-octave centres are about
// 26% apart.
const frequencyTolerance = 0.02

// lookupGain returns the level the device reports for a frequency, 0 dB
// when the device has no such band.
func lookupGain(gains []Gain, frequency float64) float64 {
	for _, g := range gains {
		if math.Abs(g.Frequency-frequency) <= frequency*frequencyTolerance {
			return g.Level
		}
	}
	return 0
}
