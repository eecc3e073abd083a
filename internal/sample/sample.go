// Package sample parses raw noise monitor lines into per-band samples.
//
// A raw line is tab separated:
//
//	time  rcvTime  40 band levels  [40 avg5m  40 avg1h  40 attenuation]
//
// The trailing auxiliary blocks are written by the measuring device and are
// kept for display and plausibility checks only.
package sample

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/linuxmatters/nmeq/internal/band"
)

// ErrMalformed is returned for lines that cannot be turned into a Sample.
var ErrMalformed = errors.New("malformed sample line")

// Column layout of a raw line
const (
	timeColumns = 2
	minColumns  = timeColumns + band.Measured
	fullColumns = timeColumns + 4*band.Measured
)

// Sample is one second of measurements. Samples are values; nothing
// downstream mutates them.
type Sample struct {
	Time     time.Time // slot time (UTC)
	Received string    // secondary timestamp column, kept verbatim

	Level  band.Levels // dB per band
	Energy band.Levels // 10^(Level/10)

	// Device-side aggregates, NaN when the line carries no auxiliary block
	Avg5m       band.Levels
	Avg1h       band.Levels
	Attenuation band.Levels
}

// ParseTime converts the first column into a UTC instant. The column holds
// "2006-01-02T15:04:05" (a space separator is also accepted) in UTC.
func ParseTime(field string) (time.Time, error) {
	s := strings.Replace(strings.TrimSpace(field), " ", "T", 1)
	t, err := time.Parse(time.RFC3339, s+".000Z")
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", ErrMalformed, field)
	}
	return t.UTC(), nil
}

// ParseLine parses one raw line.
func ParseLine(line string) (Sample, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) < minColumns {
		return Sample{}, fmt.Errorf("%w: %d columns, need at least %d", ErrMalformed, len(fields), minColumns)
	}

	t, err := ParseTime(fields[0])
	if err != nil {
		return Sample{}, err
	}

	s := Sample{
		Time:        t,
		Received:    strings.TrimSpace(fields[1]),
		Avg5m:       band.NaNLevels(),
		Avg1h:       band.NaNLevels(),
		Attenuation: band.NaNLevels(),
	}

	ids := band.All()
	for i := 0; i < band.Measured; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[timeColumns+i]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Sample{}, fmt.Errorf("%w: column %s value %q", ErrMalformed, ids[i].Column(), fields[timeColumns+i])
		}
		s.Level[i] = v
		s.Energy[i] = band.Energy(v)
	}

	if len(fields) >= fullColumns {
		for i := 0; i < band.Measured; i++ {
			s.Avg5m[i] = parseAux(fields[timeColumns+band.Measured+i])
			s.Avg1h[i] = parseAux(fields[timeColumns+2*band.Measured+i])
			s.Attenuation[i] = parseAux(fields[timeColumns+3*band.Measured+i])
		}
	}

	bass := band.Count - 1
	s.Energy[bass] = sumEnergy(s.Level)
	s.Level[bass] = band.Decibels(s.Energy[bass])
	s.Avg5m[bass] = band.Decibels(sumEnergy(s.Avg5m))
	s.Avg1h[bass] = band.Decibels(sumEnergy(s.Avg1h))
	s.Attenuation[bass] = 0

	return s, nil
}

// parseAux returns NaN for anything that is not a number.
func parseAux(field string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// sumEnergy adds the linear energies of the Bass source bands.
func sumEnergy(levels band.Levels) float64 {
	total := 0.0
	for _, id := range band.BassSources {
		i, _ := band.Index(id)
		total += band.Energy(levels[i])
	}
	return total
}

// IsHeader reports whether a line is a column header ("ID\tTime...").
func IsHeader(line string) bool {
	return len(line) > 0 && line[0] == 'I'
}

// Value returns the level of a band, NaN for unknown bands.
func (s Sample) Value(id band.ID) float64 {
	i, ok := band.Index(id)
	if !ok {
		return math.NaN()
	}
	return s.Level[i]
}
