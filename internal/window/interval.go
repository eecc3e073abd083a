package window

import (
	"time"

	"github.com/linuxmatters/nmeq/internal/band"
)

// Interval is a run of consecutive samples of one band sharing a color.
type Interval struct {
	Start   time.Time
	End     time.Time
	Energy  float64 // summed linear energy of the instant levels
	Samples int
	Leq     float64 // 10*log10(Energy/Samples)
	Color   Color
}

// extend appends one classified sample to a band's interval list. A color
// change opens a new interval starting where the previous one ended, so the
// list stays contiguous.
func extend(list []Interval, t time.Time, energy float64, c Color) []Interval {
	if n := len(list); n > 0 && list[n-1].Color == c {
		last := &list[n-1]
		last.End = t
		last.Energy += energy
		last.Samples++
		last.Leq = band.Decibels(last.Energy / float64(last.Samples))
		return list
	}

	start := t.Add(-time.Second)
	if n := len(list); n > 0 {
		start = list[n-1].End
	}
	return append(list, Interval{
		Start:   start,
		End:     t,
		Energy:  energy,
		Samples: 1,
		Leq:     band.Decibels(energy),
		Color:   c,
	})
}

// prune drops intervals that ended before start.
func prune(list []Interval, start time.Time) []Interval {
	k := 0
	for k < len(list) && list[k].End.Before(start) {
		k++
	}
	if k == 0 {
		return list
	}
	return append([]Interval(nil), list[k:]...)
}
