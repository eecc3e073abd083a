package window

import (
	"fmt"
	"time"

	"github.com/linuxmatters/nmeq/internal/band"
)

// Span is one of the three fixed aggregation spans.
type Span int

const (
	TenSeconds Span = iota
	FiveMinutes
	OneHour

	spanCount = 3
)

// Spans lists every span, shortest first.
var Spans = [spanCount]Span{TenSeconds, FiveMinutes, OneHour}

// Duration returns the length of the span.
func (s Span) Duration() time.Duration {
	switch s {
	case TenSeconds:
		return 10 * time.Second
	case FiveMinutes:
		return 5 * time.Minute
	case OneHour:
		return time.Hour
	}
	return 0
}

// Seconds is the divisor used to turn a running energy sum into an average.
func (s Span) Seconds() float64 {
	return s.Duration().Seconds()
}

func (s Span) String() string {
	switch s {
	case TenSeconds:
		return "10s"
	case FiveMinutes:
		return "5m"
	case OneHour:
		return "1h"
	}
	return fmt.Sprintf("Span(%d)", int(s))
}

// Color is the traffic light classification of a band.
type Color int

const (
	Green Color = iota
	Yellow
	Orange
	Red
	Black
)

func (c Color) String() string {
	switch c {
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case Orange:
		return "orange"
	case Red:
		return "red"
	case Black:
		return "black"
	}
	return fmt.Sprintf("Color(%d)", int(c))
}

const (
	// DefaultThreshold applies to bands without a configured limit and is
	// never reached in practice.
	DefaultThreshold = 999.0

	// margin is the distance in dB separating yellow from orange and red.
	margin = 3.0

	// resumEvery bounds the cursor advances between exact recomputations
	// of a span's running sums.
	resumEvery = 3600
)

// Classify derives the color of a band from its 5 minute and 1 hour
// averages and its 1 hour limit. It is a pure function.
//
//   - black:  1h average above the limit
//   - red:    5m at least 3 dB above the limit and 1h within 3 dB of it
//   - orange: 5m at least 3 dB above the limit
//   - yellow: 5m above the limit
//   - green:  otherwise
func Classify(limit, avg5m, avg1h float64) Color {
	switch {
	case avg1h > limit:
		return Black
	case avg5m >= limit+margin && avg1h+margin > limit:
		return Red
	case avg5m >= limit+margin:
		return Orange
	case avg5m > limit:
		return Yellow
	}
	return Green
}

// Series selects one of the values tracked per band for min/max projection.
type Series int

const (
	Instant Series = iota
	Avg10s
	Avg5m
	Avg1h
)

var seriesList = [...]Series{Instant, Avg10s, Avg5m, Avg1h}

func (s Series) String() string {
	switch s {
	case Instant:
		return "instant"
	case Avg10s:
		return "10s"
	case Avg5m:
		return "5m"
	case Avg1h:
		return "1h"
	}
	return fmt.Sprintf("Series(%d)", int(s))
}

// Field keys min/max projections.
type Field struct {
	Band   band.ID
	Series Series
}
