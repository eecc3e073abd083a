// Package window implements the sliding-window aggregator: an owned,
// append-only sample buffer with one cursor and one running energy sum per
// span (10 s, 5 min, 1 h), traffic light intervals per band and min/max
// projections for display scaling.
//
// A Window has a single writer. Callers that feed it from several
// goroutines must serialize AddSamples themselves.
package window

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/linuxmatters/nmeq/internal/band"
	"github.com/linuxmatters/nmeq/internal/sample"
)

// ErrOrdering marks a sample that is not strictly after its predecessor.
var ErrOrdering = errors.New("samples not in chronological order")

// OrderingError reports where an ordering violation was found.
type OrderingError struct {
	Index    int // position in the batch passed to AddSamples
	Previous time.Time
	Current  time.Time
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("%v: sample %d at %s is not after %s",
		ErrOrdering, e.Index, e.Current.Format(time.RFC3339), e.Previous.Format(time.RFC3339))
}

func (e *OrderingError) Unwrap() error { return ErrOrdering }

// Kind distinguishes rolling windows from fixed historical ones.
type Kind int

const (
	Rolling Kind = iota
	Fixed
)

func (k Kind) String() string {
	if k == Fixed {
		return "fixed"
	}
	return "rolling"
}

// Status is the load lifecycle of a window.
type Status int

const (
	Initializing Status = iota
	Loaded
	Running
)

func (s Status) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Running:
		return "running"
	}
	return "initializing"
}

// Config describes a window.
type Config struct {
	// Start of a fixed window. Zero means a rolling window ending now.
	Start time.Time

	// Length of the visible window, one hour when zero.
	Length time.Duration

	// Thresholds maps bands to their 1 hour limit in dB. Bands without an
	// entry use DefaultThreshold.
	Thresholds map[band.ID]float64

	// Bands tracked for classification and min/max. Empty means all.
	Bands []band.ID

	// AggregatePast keeps a rolling window at Initializing until real data
	// arrives, for callers that backfill history first.
	AggregatePast bool

	// FollowData drives a rolling window from the newest sample instead of
	// the clock, for replaying recorded feeds.
	FollowData bool

	Logger *slog.Logger
	Now    func() time.Time
}

// State is a snapshot of the window. Maps are copies.
type State struct {
	Start         time.Time
	End           time.Time
	Length        time.Duration
	Status        Status
	Kind          Kind
	AggregatePast bool
	Bands         []band.ID
	Min           map[Field]float64
	Max           map[Field]float64

	// NaNFields counts NaN and infinite values met by the last min/max
	// projection.
	NaNFields int
}

// Point is a buffered sample together with its rolling averages.
type Point struct {
	sample.Sample
	Avg [spanCount]band.Levels // dB, indexed by Span
}

// Average returns the rolling average of a band over a span.
func (p Point) Average(s Span, id band.ID) float64 {
	i, ok := band.Index(id)
	if !ok || s < 0 || int(s) >= spanCount {
		return math.NaN()
	}
	return p.Avg[s][i]
}

// Window is the sliding-window aggregator.
type Window struct {
	log *slog.Logger
	now func() time.Time

	kind          Kind
	length        time.Duration
	aggregatePast bool
	followData    bool
	status        Status
	start, end    time.Time

	bands      []band.ID
	bandIdx    []int
	thresholds map[band.ID]float64

	buf    []Point
	cursor [spanCount]int
	sum    [spanCount]band.Levels

	// cursor advances per span since the sums were last recomputed
	advanced [spanCount]int

	intervals map[band.ID][]Interval
	min, max  map[Field]float64
	nanFields int
}

// New creates a window from its configuration.
func New(cfg Config) *Window {
	w := &Window{
		log:           cfg.Logger,
		now:           cfg.Now,
		length:        cfg.Length,
		aggregatePast: cfg.AggregatePast,
		followData:    cfg.FollowData && cfg.Start.IsZero(),
		intervals:     make(map[band.ID][]Interval),
		min:           make(map[Field]float64),
		max:           make(map[Field]float64),
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.length <= 0 {
		w.length = OneHour.Duration()
	}

	switch {
	case w.followData:
		// bounds are set by the first batch
		w.kind = Rolling
	case cfg.Start.IsZero():
		w.kind = Rolling
		w.end = w.now().UTC()
		w.start = w.end.Add(-w.length)
	default:
		w.kind = Fixed
		w.start = cfg.Start.UTC()
		w.end = w.start.Add(w.length)
	}

	ids := cfg.Bands
	if len(ids) == 0 {
		ids = band.All()
	}
	for _, id := range ids {
		norm := band.Normalize(string(id))
		i, ok := band.Index(norm)
		if !ok {
			w.log.Warn("window_unknown_band", "band", id)
			continue
		}
		w.bands = append(w.bands, norm)
		w.bandIdx = append(w.bandIdx, i)
	}
	w.SetThresholds(cfg.Thresholds)

	w.log.Debug("window_created",
		"kind", w.kind.String(),
		"length", w.length,
		"aggregate_past", w.aggregatePast,
		"follow_data", w.followData,
		"bands", len(w.bands))
	return w
}

// SetThresholds replaces the per-band 1 hour limits used for classification
// of subsequent samples.
func (w *Window) SetThresholds(th map[band.ID]float64) {
	w.thresholds = make(map[band.ID]float64, len(th))
	for id, v := range th {
		w.thresholds[band.Normalize(string(id))] = v
	}
}

func (w *Window) threshold(id band.ID) float64 {
	if v, ok := w.thresholds[id]; ok {
		return v
	}
	return DefaultThreshold
}

// Admit filters raw samples to the ones the window accepts: samples before
// the window start are dropped and a fixed window stops at its end.
func (w *Window) Admit(in []sample.Sample) []sample.Sample {
	out := make([]sample.Sample, 0, len(in))
	for _, s := range in {
		if w.kind == Fixed && s.Time.After(w.end) {
			break
		}
		if s.Time.Before(w.start) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// AddSamples appends strictly time-increasing samples, updates the rolling
// sums, classification intervals and min/max, then compacts the buffer.
//
// The boolean is false when the call changed nothing: an empty batch for a
// fixed window or a window aggregating the past, or a batch starting after
// the end of a fixed window. An ordering violation returns an error wrapping
// ErrOrdering and leaves the window untouched.
func (w *Window) AddSamples(in []sample.Sample) (State, bool, error) {
	if len(in) == 0 && (w.kind == Fixed || w.aggregatePast) {
		w.log.Debug("window_skip_empty", "kind", w.kind.String(), "aggregate_past", w.aggregatePast)
		return State{}, false, nil
	}
	if w.kind == Fixed && len(in) > 0 && in[0].Time.After(w.end) {
		w.log.Debug("window_skip_after_end", "first", in[0].Time, "end", w.end)
		return State{}, false, nil
	}
	if w.kind == Fixed {
		in = w.clip(in)
	}

	if err := w.checkOrder(in); err != nil {
		return State{}, false, err
	}

	if len(in) == 0 {
		// empty rolling window, ready for live data
		w.promote()
		return w.State(), true, nil
	}

	end, start := w.bounds(in[len(in)-1].Time)

	for _, s := range in {
		w.aggregate(s)
	}

	w.start, w.end = start, end
	w.compact()
	w.project()
	w.promote()

	w.log.Debug("window_aggregated",
		"added", len(in),
		"buffered", len(w.buf),
		"cursor_10s", w.cursor[TenSeconds],
		"cursor_5m", w.cursor[FiveMinutes],
		"cursor_1h", w.cursor[OneHour],
		"start", w.start,
		"end", w.end)
	return w.State(), true, nil
}

// clip drops samples after the end of a fixed window.
func (w *Window) clip(in []sample.Sample) []sample.Sample {
	for i, s := range in {
		if s.Time.After(w.end) {
			return in[:i]
		}
	}
	return in
}

func (w *Window) checkOrder(in []sample.Sample) error {
	var prev time.Time
	if n := len(w.buf); n > 0 {
		prev = w.buf[n-1].Time
	}
	for i, s := range in {
		if !prev.IsZero() && !s.Time.After(prev) {
			return &OrderingError{Index: i, Previous: prev, Current: s.Time}
		}
		prev = s.Time
	}
	return nil
}

// bounds computes the window end and start after a batch whose newest
// sample is at newest. Fixed windows never move.
func (w *Window) bounds(newest time.Time) (end, start time.Time) {
	if w.kind == Fixed {
		return w.end, w.start
	}
	end = newest.UTC().Truncate(time.Second).Add(time.Second)
	if w.followData {
		return end, end.Add(-w.length)
	}
	now := w.now().UTC()
	if end.Add(time.Second).Before(now) {
		w.log.Debug("window_stale_data", "newest", newest, "now", now)
		end = now
	}
	return end, end.Add(-w.length)
}

// aggregate appends one sample and advances every span.
func (w *Window) aggregate(s sample.Sample) {
	w.buf = append(w.buf, Point{Sample: s})
	last := len(w.buf) - 1
	p := &w.buf[last]

	for _, sp := range Spans {
		c := w.cursor[sp]
		var lossy [band.Count]bool
		for p.Time.Sub(w.buf[c].Time) > sp.Duration() {
			for b := range w.sum[sp] {
				e := w.buf[c].Energy[b]
				w.sum[sp][b] -= e
				// the removed energy dominated the sum, so the
				// remainder carries its rounding error
				if e > w.sum[sp][b] {
					lossy[b] = true
				}
			}
			c++
		}
		w.advanced[sp] += c - w.cursor[sp]
		w.cursor[sp] = c

		full := w.advanced[sp] >= resumEvery
		if full {
			w.advanced[sp] = 0
		}
		for b := range w.sum[sp] {
			if full || lossy[b] {
				w.sum[sp][b] = w.resum(c, last, b)
			}
		}

		for b := range w.sum[sp] {
			w.sum[sp][b] += p.Energy[b]
			p.Avg[sp][b] = band.Decibels(w.sum[sp][b] / sp.Seconds())
		}
	}

	for k, id := range w.bands {
		i := w.bandIdx[k]
		c := Classify(w.threshold(id), p.Avg[FiveMinutes][i], p.Avg[OneHour][i])
		w.intervals[id] = extend(w.intervals[id], p.Time, p.Energy[i], c)
	}
}

// resum returns the exact energy sum of band b over buf[from:to].
func (w *Window) resum(from, to, b int) float64 {
	var sum float64
	for _, p := range w.buf[from:to] {
		sum += p.Energy[b]
	}
	return sum
}

// compact drops leading samples that are before the window start and no
// longer referenced by any span cursor, then prunes stale intervals.
func (w *Window) compact() {
	limit := w.cursor[0]
	for _, c := range w.cursor {
		if c < limit {
			limit = c
		}
	}

	n := 0
	for n < limit && w.buf[n].Time.Before(w.start) {
		n++
	}
	if n > 0 {
		w.buf = append([]Point(nil), w.buf[n:]...)
		for sp := range w.cursor {
			w.cursor[sp] -= n
		}
		w.log.Debug("window_compacted", "dropped", n, "buffered", len(w.buf))
	}

	for _, id := range w.bands {
		w.intervals[id] = prune(w.intervals[id], w.start)
	}
}

// project recomputes min/max over the retained buffer for tracked bands.
// NaN and infinite values are counted and skipped.
func (w *Window) project() {
	lo := make(map[Field]float64)
	hi := make(map[Field]float64)
	bad := 0

	for _, p := range w.buf {
		for k, id := range w.bands {
			i := w.bandIdx[k]
			for _, s := range seriesList {
				v := p.Level[i]
				if s != Instant {
					v = p.Avg[s-1][i]
				}
				if math.IsNaN(v) || math.IsInf(v, 0) {
					bad++
					continue
				}
				f := Field{Band: id, Series: s}
				if cur, ok := lo[f]; !ok || v < cur {
					lo[f] = v
				}
				if cur, ok := hi[f]; !ok || v > cur {
					hi[f] = v
				}
			}
		}
	}

	if bad > 0 {
		w.log.Warn("window_invalid_fields", "count", bad, "buffered", len(w.buf))
	}
	w.min, w.max, w.nanFields = lo, hi, bad
}

// promote moves a fresh window to Loaded without undoing Running.
func (w *Window) promote() {
	if w.status == Initializing {
		w.status = Loaded
	}
}

// MarkRunning records that live data is flowing into the window.
func (w *Window) MarkRunning() {
	w.status = Running
}

// State returns a snapshot of the window.
func (w *Window) State() State {
	st := State{
		Start:         w.start,
		End:           w.end,
		Length:        w.length,
		Status:        w.status,
		Kind:          w.kind,
		AggregatePast: w.aggregatePast,
		Bands:         append([]band.ID(nil), w.bands...),
		Min:           make(map[Field]float64, len(w.min)),
		Max:           make(map[Field]float64, len(w.max)),
		NaNFields:     w.nanFields,
	}
	for f, v := range w.min {
		st.Min[f] = v
	}
	for f, v := range w.max {
		st.Max[f] = v
	}
	return st
}

// Len returns the number of buffered samples.
func (w *Window) Len() int {
	return len(w.buf)
}

// Points returns a copy of the buffered samples, oldest first.
func (w *Window) Points() []Point {
	return append([]Point(nil), w.buf...)
}

// Latest returns the newest buffered sample.
func (w *Window) Latest() (Point, bool) {
	if len(w.buf) == 0 {
		return Point{}, false
	}
	return w.buf[len(w.buf)-1], true
}

// Intervals returns a copy of the classification intervals of a band.
func (w *Window) Intervals(id band.ID) []Interval {
	return append([]Interval(nil), w.intervals[band.Normalize(string(id))]...)
}

// SyncFrom returns the UTC second of the newest sample (or the window end
// when empty) as "2006-01-02T15:04:05", the resume point for a live feed.
func (w *Window) SyncFrom() string {
	t := w.end
	if p, ok := w.Latest(); ok {
		t = p.Time
	}
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05")
}
