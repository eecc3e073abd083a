// Package monitor runs raw monitor lines through the sliding window and
// drives the attenuation controller from the newest 10 s levels.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/band"
	"github.com/linuxmatters/nmeq/internal/feed"
	"github.com/linuxmatters/nmeq/internal/sample"
	"github.com/linuxmatters/nmeq/internal/window"
)

// Observer receives monitor events. Methods may be called concurrently:
// Pass runs on the controller goroutine.
type Observer interface {
	Ingested(Batch)
	Snapshot(Snapshot)
	Pass(attenuation.Pass, error)
}

// Batch reports one ingested block of raw lines.
type Batch struct {
	Samples   int // added to the window
	Skipped   int // malformed lines
	Stale     int // at or before the newest buffered sample
	Outside   int // outside the window bounds
	NaNFields int
	Err       error
}

// BandView is the presentation state of one band.
type BandView struct {
	Band       band.ID
	Frequency  float64 // 0 for full-spectrum bands
	Level      float64 // newest 1 s level
	Avg10s     float64
	Avg5m      float64
	Avg1h      float64
	Color      window.Color
	Limit5m    float64 // NaN when the band is not controlled
	Limit1h    float64
	Gain       float64
	Controlled bool
	Hum        bool // mains hum lands in this band
}

// Snapshot is the monitor state after an aggregated batch.
type Snapshot struct {
	Time      time.Time // newest sample
	State     window.State
	Buffered  int
	SyncFrom  string
	Algorithm attenuation.Algorithm
	Bands     []BandView
}

// Stats are cumulative counters for the session.
type Stats struct {
	Batches      int
	Samples      int
	Skipped      int
	Stale        int
	Outside      int
	NaNFields    int
	Passes       int
	PassesBusy   int
	ReadErrors   int
	Writes       int
	WriteErrors  int
	LowestGain   float64
	FirstSample  time.Time
	LatestSample time.Time
}

// Config configures a Monitor.
type Config struct {
	Window     window.Config
	Controller *attenuation.Controller // nil disables control

	// Display lists the bands shown in snapshots. Empty means the window's
	// tracked bands.
	Display []band.ID

	// Hum marks the band where mains hum lands, if any.
	Hum band.ID

	Observers []Observer
	Logger    *slog.Logger
}

// Monitor owns the window and serializes every write to it.
type Monitor struct {
	log     *slog.Logger
	ctl     *attenuation.Controller
	obs     []Observer
	display []band.ID
	hum     band.ID

	mu         sync.Mutex
	win        *window.Window
	thresholds map[band.ID]float64
	live       bool
	halted     error
	last       Snapshot
	stats      Stats

	passes sync.WaitGroup
}

// New creates a monitor.
func New(cfg Config) *Monitor {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Window.Logger == nil {
		cfg.Window.Logger = log
	}

	m := &Monitor{
		log:        log.With(slog.String("component", "monitor")),
		ctl:        cfg.Controller,
		obs:        cfg.Observers,
		hum:        cfg.Hum,
		win:        window.New(cfg.Window),
		thresholds: make(map[band.ID]float64, len(cfg.Window.Thresholds)),
	}
	for id, v := range cfg.Window.Thresholds {
		m.thresholds[band.Normalize(string(id))] = v
	}

	m.display = cfg.Display
	if len(m.display) == 0 {
		m.display = m.win.State().Bands
	}
	return m
}

// Ingest parses a block of raw lines and adds it to the window. Samples at
// or before the newest buffered sample are dropped, so a live feed that
// resends from SyncFrom does not trip the ordering check. Once running, each
// aggregated batch starts a controller pass on its own goroutine.
//
// An ordering violation inside the block halts the monitor: the error is
// returned now and by every later call.
func (m *Monitor) Ingest(ctx context.Context, data string) error {
	in, skipped, err := decode(data, m.log)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	m.mu.Lock()
	if m.halted != nil {
		m.mu.Unlock()
		return m.halted
	}

	b := Batch{Skipped: skipped}
	fresh := m.dropStale(in)
	b.Stale = len(in) - len(fresh)
	admitted := m.win.Admit(fresh)
	b.Outside = len(fresh) - len(admitted)

	st, ok, err := m.win.AddSamples(admitted)
	if err != nil {
		m.halted = fmt.Errorf("ingest: %w", err)
		b.Err = err
		m.stats.add(b, nil)
		m.mu.Unlock()

		m.log.Error("ingest_halted", "error", err)
		m.notifyBatch(b)
		return m.halted
	}

	b.Samples = len(admitted)
	b.NaNFields = st.NaNFields
	m.stats.add(b, admitted)

	var (
		snap  Snapshot
		input attenuation.Input
		run   bool
	)
	if ok {
		snap = m.snapshot(st)
		m.last = snap
		if m.live && m.ctl != nil && b.Samples > 0 {
			input, run = m.input()
		}
	}
	m.mu.Unlock()

	if b.Stale > 0 || b.Outside > 0 {
		m.log.Debug("ingest_dropped", "stale", b.Stale, "outside", b.Outside)
	}
	m.notifyBatch(b)
	if ok {
		for _, o := range m.obs {
			o.Snapshot(snap)
		}
	}
	if run {
		m.passes.Add(1)
		go m.runPass(ctx, input)
	}
	return nil
}

func decode(data string, log *slog.Logger) ([]sample.Sample, int, error) {
	dec := sample.NewDecoder(strings.NewReader(data), log)
	var out []sample.Sample
	for {
		s, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out, dec.Skipped(), nil
		}
		if err != nil {
			return nil, dec.Skipped(), err
		}
		out = append(out, s)
	}
}

// dropStale removes the leading samples already covered by the buffer.
func (m *Monitor) dropStale(in []sample.Sample) []sample.Sample {
	p, ok := m.win.Latest()
	if !ok {
		return in
	}
	i := 0
	for i < len(in) && !in[i].Time.After(p.Time) {
		i++
	}
	return in[i:]
}

// input collects the newest 10 s levels of the controlled bands.
func (m *Monitor) input() (attenuation.Input, bool) {
	p, ok := m.win.Latest()
	if !ok {
		return attenuation.Input{}, false
	}
	in := attenuation.Input{Time: p.Time, Levels: make(map[band.ID]float64)}
	for _, bs := range m.ctl.Bands() {
		v := p.Average(window.TenSeconds, bs.Band)
		if math.IsNaN(v) {
			continue
		}
		in.Levels[bs.Band] = v
	}
	return in, len(in.Levels) > 0
}

func (m *Monitor) runPass(ctx context.Context, in attenuation.Input) {
	defer m.passes.Done()

	p, err := m.ctl.Update(ctx, in)
	if err != nil {
		m.log.Warn("attenuation_pass_failed", "pass", p.ID, "error", err)
	}

	m.mu.Lock()
	m.stats.pass(p, err)
	m.mu.Unlock()

	for _, o := range m.obs {
		o.Pass(p, err)
	}
}

func (m *Monitor) notifyBatch(b Batch) {
	for _, o := range m.obs {
		o.Ingested(b)
	}
}

// snapshot builds the presentation state. Callers hold mu.
func (m *Monitor) snapshot(st window.State) Snapshot {
	snap := Snapshot{
		State:     st,
		Buffered:  m.win.Len(),
		SyncFrom:  m.win.SyncFrom(),
		Algorithm: attenuation.NoOp,
	}

	controlled := make(map[band.ID]attenuation.BandStatus)
	if m.ctl != nil {
		snap.Algorithm = m.ctl.Algorithm()
		for _, bs := range m.ctl.Bands() {
			controlled[bs.Band] = bs
		}
	}

	p, ok := m.win.Latest()
	if ok {
		snap.Time = p.Time
	}

	for _, id := range m.display {
		v := BandView{
			Band:    id,
			Level:   math.NaN(),
			Avg10s:  math.NaN(),
			Avg5m:   math.NaN(),
			Avg1h:   math.NaN(),
			Limit5m: math.NaN(),
			Limit1h: m.threshold(id),
			Hum:     id == m.hum,
		}
		v.Frequency, _ = band.Frequency(id)
		if ok {
			v.Level = p.Value(id)
			v.Avg10s = p.Average(window.TenSeconds, id)
			v.Avg5m = p.Average(window.FiveMinutes, id)
			v.Avg1h = p.Average(window.OneHour, id)
		}
		if iv := m.win.Intervals(id); len(iv) > 0 {
			v.Color = iv[len(iv)-1].Color
		}
		if bs, ok := controlled[id]; ok {
			v.Controlled = true
			v.Limit5m = bs.Config.Limit5m
			v.Gain = bs.State.Level
		}
		snap.Bands = append(snap.Bands, v)
	}
	return snap
}

func (m *Monitor) threshold(id band.ID) float64 {
	if v, ok := m.thresholds[id]; ok {
		return v
	}
	return window.DefaultThreshold
}

// Load fills the window before the live feed starts. Windows that aggregate
// the past (and fixed windows) are backfilled from the store; a live
// rolling window is simply marked loaded.
func (m *Monitor) Load(ctx context.Context, store *feed.Store) error {
	st := m.State()
	if store != nil && (st.AggregatePast || st.Kind == window.Fixed) {
		m.log.Info("monitor_backfill", "from", st.Start, "to", st.End)
		if err := store.Backfill(ctx, st.Start, st.End, m.Ingest); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, _, err := m.win.AddSamples(nil); err != nil {
		return err
	}
	m.log.Info("monitor_loaded", "samples", m.win.Len(), "status", m.win.State().Status.String())
	return nil
}

// Run marks the window running and ingests src until it ends, ctx is
// cancelled or an ordering violation halts the monitor. It waits for
// in-flight controller passes before returning.
func (m *Monitor) Run(ctx context.Context, src feed.Source) error {
	m.mu.Lock()
	m.win.MarkRunning()
	m.live = true
	from := m.win.SyncFrom()
	m.mu.Unlock()

	m.log.Info("monitor_running", "sync_from", from)
	err := src.Stream(ctx, m.Ingest)
	m.passes.Wait()
	if err != nil {
		m.log.Error("monitor_stopped", "error", err)
		return err
	}
	m.log.Info("monitor_stopped")
	return nil
}

// UpdateBandConfig applies new limits: the controller's band settings and
// the window thresholds taken from each band's 1 h limit.
func (m *Monitor) UpdateBandConfig(bands map[band.ID]attenuation.BandConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, bc := range bands {
		m.thresholds[band.Normalize(string(id))] = bc.Limit1h
	}
	th := make(map[band.ID]float64, len(m.thresholds))
	for id, v := range m.thresholds {
		th[id] = v
	}
	m.win.SetThresholds(th)
	if m.ctl != nil {
		m.ctl.UpdateBandConfig(bands)
	}
}

// Wait blocks until in-flight controller passes finish.
func (m *Monitor) Wait() {
	m.passes.Wait()
}

// Snapshot returns the state after the last aggregated batch.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// State returns the current window state.
func (m *Monitor) State() window.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.win.State()
}

// SyncFrom returns the point a live feed should resend from.
func (m *Monitor) SyncFrom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.win.SyncFrom()
}

// Intervals returns the classification intervals of every displayed band.
func (m *Monitor) Intervals() map[band.ID][]window.Interval {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[band.ID][]window.Interval, len(m.display))
	for _, id := range m.display {
		out[id] = m.win.Intervals(id)
	}
	return out
}

// Stats returns the session counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (s *Stats) add(b Batch, admitted []sample.Sample) {
	s.Batches++
	s.Samples += b.Samples
	s.Skipped += b.Skipped
	s.Stale += b.Stale
	s.Outside += b.Outside
	s.NaNFields += b.NaNFields
	if len(admitted) > 0 {
		if s.FirstSample.IsZero() {
			s.FirstSample = admitted[0].Time
		}
		s.LatestSample = admitted[len(admitted)-1].Time
	}
}

func (s *Stats) pass(p attenuation.Pass, err error) {
	switch {
	case p.Skipped:
		s.PassesBusy++
		return
	case errors.Is(err, attenuation.ErrDeviceRead):
		s.ReadErrors++
		return
	}
	s.Passes++
	for _, ch := range p.Changes {
		if ch.Err != nil {
			s.WriteErrors++
			continue
		}
		s.Writes++
		if ch.To < s.LowestGain {
			s.LowestGain = ch.To
		}
	}
}

// Base implements Observer with no-ops, for embedding.
type Base struct{}

func (Base) Ingested(Batch)               {}
func (Base) Snapshot(Snapshot)            {}
func (Base) Pass(attenuation.Pass, error) {}
