// Package band defines the frequency bands reported by the noise monitor
// and the mapping from band identifiers to equaliser centre frequencies.
package band

import (
	"math"
	"strconv"
	"strings"
)

// ID is the canonical band identifier, e.g. "A", "31.5Hz", "1.25kHz".
// Data columns use the "Leq31_5Hz" spelling; Normalize converts between them.
type ID string

const (
	// Measured is the number of band columns in a raw data line.
	Measured = 40

	// Count includes the computed Bass band.
	Count = Measured + 1

	// Bass is computed from the low third-octave bands, it has no data column.
	Bass ID = "Bass"
)

// Levels holds one value per band, indexed like All().
type Levels [Count]float64

// all lists the bands in raw line order followed by Bass.
var all = [Count]ID{
	"A", "B", "C", "Z",
	"6.3Hz", "8Hz", "10Hz", "12.5Hz", "16Hz", "20Hz", "25Hz", "31.5Hz", "40Hz",
	"50Hz", "63Hz", "80Hz", "100Hz", "125Hz", "160Hz", "200Hz", "250Hz", "315Hz",
	"400Hz", "500Hz", "630Hz", "800Hz", "1kHz", "1.25kHz", "1.6kHz", "2kHz",
	"2.5kHz", "3.15kHz", "4kHz", "5kHz", "6.3kHz", "8kHz", "10kHz", "12.5kHz",
	"16kHz", "20kHz",
	Bass,
}

// BassSources are the bands whose energies sum up to the Bass band.
var BassSources = []ID{"31.5Hz", "40Hz", "50Hz", "63Hz", "80Hz", "100Hz"}

// DefaultControlled are the bands attenuated when no band list is configured.
var DefaultControlled = []ID{"100Hz", "80Hz", "63Hz", "50Hz", "40Hz", "31.5Hz"}

// fullSpectrum bands are weighted aggregates without an equaliser channel.
var fullSpectrum = map[ID]bool{"A": true, "B": true, "C": true, "D": true, "Z": true, Bass: true}

var index = func() map[ID]int {
	m := make(map[ID]int, Count)
	for i, id := range all {
		m[id] = i
	}
	return m
}()

// All returns every band in raw line order, Bass last.
func All() []ID {
	out := make([]ID, Count)
	copy(out, all[:])
	return out
}

// Index returns the position of a band inside Levels.
func Index(id ID) (int, bool) {
	i, ok := index[Normalize(string(id))]
	return i, ok
}

// Normalize turns "Leq31_5Hz", "31_5Hz" or "31.5Hz" into "31.5Hz".
func Normalize(s string) ID {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Leq")
	return ID(strings.ReplaceAll(s, "_", "."))
}

// Column returns the data column spelling of a band ("Leq31_5Hz").
func (id ID) Column() string {
	return "Leq" + strings.ReplaceAll(string(id), ".", "_")
}

// FullSpectrum reports whether the band is a weighted aggregate (A/B/C/D/Z)
// or the computed Bass band.
func (id ID) FullSpectrum() bool {
	return fullSpectrum[Normalize(string(id))]
}

// Frequency parses the band centre frequency in Hz. Both "Hz" and "kHz"
// suffixes are accepted, with "." or "_" as decimal separator.
// Returns false for full-spectrum bands and unparseable identifiers.
func Frequency(id ID) (float64, bool) {
	norm := Normalize(string(id))
	if fullSpectrum[norm] {
		return 0, false
	}
	s := strings.TrimSuffix(string(norm), "Hz")
	kilo := false
	if strings.HasSuffix(s, "k") {
		s = strings.TrimSuffix(s, "k")
		kilo = true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) {
		return 0, false
	}
	if kilo {
		f *= 1000
	}
	return f, true
}

// ThirdOctave returns the third-octave bands whose centre frequency lies
// within [lo, hi] Hz, in ascending order.
func ThirdOctave(lo, hi float64) []ID {
	var out []ID
	for _, id := range all {
		f, ok := Frequency(id)
		if !ok || f < lo || f > hi {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Nearest returns the third-octave band closest to the given frequency
// on a logarithmic scale.
func Nearest(hz float64) ID {
	best := ID("")
	bestDist := math.Inf(1)
	for _, id := range all {
		f, ok := Frequency(id)
		if !ok {
			continue
		}
		d := math.Abs(math.Log2(f / hz))
		if d < bestDist {
			best, bestDist = id, d
		}
	}
	return best
}

// NaNLevels returns Levels with every band set to NaN.
func NaNLevels() Levels {
	var l Levels
	for i := range l {
		l[i] = math.NaN()
	}
	return l
}

// Energy converts a dB level to its linear energy equivalent.
func Energy(db float64) float64 {
	return math.Pow(10, db/10)
}

// Decibels converts a linear energy to dB.
func Decibels(energy float64) float64 {
	return 10 * math.Log10(energy)
}
