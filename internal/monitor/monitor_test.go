package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/band"
	"github.com/linuxmatters/nmeq/internal/device"
	"github.com/linuxmatters/nmeq/internal/feed"
	"github.com/linuxmatters/nmeq/internal/window"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// line renders a raw line with every band at db.
func line(t time.Time, db float64) string {
	ts := t.UTC().Format("2006-01-02 15:04:05")
	fields := []string{ts, ts}
	for i := 0; i < band.Measured; i++ {
		fields = append(fields, strconv.FormatFloat(db, 'f', 1, 64))
	}
	return strings.Join(fields, "\t") + "\n"
}

func block(from, n int, db float64) string {
	var sb strings.Builder
	for i := from; i < from+n; i++ {
		sb.WriteString(line(t0.Add(time.Duration(i)*time.Second), db))
	}
	return sb.String()
}

func fixedConfig() Config {
	return Config{
		Window: window.Config{
			Start:      t0,
			Length:     time.Hour,
			Bands:      []band.ID{"A", "31.5Hz"},
			Thresholds: map[band.ID]float64{"31.5Hz": 65},
		},
		Logger: quietLogger(),
	}
}

// recorder counts observer events.
type recorder struct {
	mu        sync.Mutex
	batches   []Batch
	snapshots int
	passes    int
}

func (r *recorder) Ingested(b Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
}

func (r *recorder) Snapshot(Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots++
}

func (r *recorder) Pass(attenuation.Pass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes++
}

// lines is a Source delivering one line at a time and waiting for the
// controller pass it triggered.
type lines struct {
	data []string
	wait func()
}

func (l *lines) Stream(ctx context.Context, h feed.Handler) error {
	for _, d := range l.data {
		if err := h(ctx, d); err != nil {
			return err
		}
		l.wait()
	}
	return nil
}

func TestIngestBuildsSnapshot(t *testing.T) {
	rec := &recorder{}
	cfg := fixedConfig()
	cfg.Observers = []Observer{rec}
	m := New(cfg)

	data := "I\tR\tA\n" + block(0, 3, 70) + "garbage\n"
	if err := m.Ingest(context.Background(), data); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	st := m.Stats()
	if st.Samples != 3 || st.Skipped != 1 || st.Batches != 1 {
		t.Errorf("stats = %+v", st)
	}

	snap := m.Snapshot()
	if snap.Buffered != 3 || !snap.Time.Equal(t0.Add(2*time.Second)) {
		t.Errorf("snapshot buffered %d at %v", snap.Buffered, snap.Time)
	}
	if snap.State.Status != window.Loaded {
		t.Errorf("status = %v, want Loaded", snap.State.Status)
	}
	if len(snap.Bands) != 2 {
		t.Fatalf("got %d band views, want 2", len(snap.Bands))
	}

	v := snap.Bands[1]
	if v.Band != "31.5Hz" || v.Frequency != 31.5 {
		t.Errorf("band view = %+v", v)
	}
	// three seconds of energy spread over the 10 s span
	if want := 70 + 10*math.Log10(3.0/10); math.Abs(v.Avg10s-want) > 1e-9 || v.Level != 70 {
		t.Errorf("levels = %v / %v, want 70 / %v", v.Level, v.Avg10s, want)
	}
	if v.Limit1h != 65 || !math.IsNaN(v.Limit5m) || v.Controlled {
		t.Errorf("limits = %v / %v controlled %v", v.Limit5m, v.Limit1h, v.Controlled)
	}
	if v.Color != window.Green {
		t.Errorf("color = %v, want green while the averages are filling", v.Color)
	}
	if snap.Bands[0].Limit1h != window.DefaultThreshold || snap.Bands[0].Color != window.Green {
		t.Errorf("A band view = %+v", snap.Bands[0])
	}

	if len(rec.batches) != 1 || rec.snapshots != 1 || rec.passes != 0 {
		t.Errorf("observer saw %d batches, %d snapshots, %d passes", len(rec.batches), rec.snapshots, rec.passes)
	}
}

func TestIngestDropsResentSamples(t *testing.T) {
	m := New(fixedConfig())
	ctx := context.Background()

	if err := m.Ingest(ctx, block(0, 5, 60)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := m.Ingest(ctx, block(3, 4, 60)); err != nil {
		t.Fatalf("resend: %v", err)
	}

	st := m.Stats()
	if st.Stale != 2 || st.Samples != 7 {
		t.Errorf("stale %d samples %d, want 2 and 7", st.Stale, st.Samples)
	}
	if got := m.Snapshot().Buffered; got != 7 {
		t.Errorf("buffered %d, want 7", got)
	}
	if got := m.SyncFrom(); got != "2024-06-01T12:00:06" {
		t.Errorf("SyncFrom = %q", got)
	}
}

func TestOrderingViolationHalts(t *testing.T) {
	rec := &recorder{}
	cfg := fixedConfig()
	cfg.Observers = []Observer{rec}
	m := New(cfg)

	data := block(0, 5, 60) + line(t0.Add(10*time.Second), 60) + line(t0.Add(8*time.Second), 60)
	err := m.Run(context.Background(), feed.NewReader(strings.NewReader(data), quietLogger()))
	if !errors.Is(err, window.ErrOrdering) {
		t.Fatalf("Run error = %v, want ordering violation", err)
	}
	var oe *window.OrderingError
	if !errors.As(err, &oe) || oe.Index != 6 {
		t.Errorf("ordering error = %#v", oe)
	}

	if err := m.Ingest(context.Background(), block(20, 1, 60)); !errors.Is(err, window.ErrOrdering) {
		t.Errorf("Ingest after halt = %v, want the halting error", err)
	}
	if got := m.State(); len(m.Snapshot().Bands) != 0 || got.Status != window.Running {
		t.Errorf("window changed after the violation: %+v", got)
	}
	if len(rec.batches) != 1 || rec.batches[0].Err == nil {
		t.Errorf("observer batches = %+v", rec.batches)
	}
}

func TestLoadBackfillsFixedWindow(t *testing.T) {
	dir := t.TempDir()
	store := feed.NewStore(dir, quietLogger())
	writeHour(t, store, t0, block(0, 120, 55))

	m := New(fixedConfig())
	if err := m.Load(context.Background(), store); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st := m.Stats(); st.Samples != 120 {
		t.Errorf("backfilled %d samples, want 120", st.Samples)
	}
	if st := m.State(); st.Status != window.Loaded {
		t.Errorf("status = %v", st.Status)
	}
}

func TestLoadMarksLiveRollingWindow(t *testing.T) {
	now := t0
	m := New(Config{
		Window: window.Config{Now: func() time.Time { return now }},
		Logger: quietLogger(),
	})
	if err := m.Load(context.Background(), nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := m.State()
	if st.Status != window.Loaded || st.Kind != window.Rolling {
		t.Errorf("state = %v %v", st.Kind, st.Status)
	}
}

func TestRunReplaysRecordedFeed(t *testing.T) {
	wall := t0.Add(1000 * time.Hour)
	tests := []struct {
		name        string
		followData  bool
		wantSamples int
	}{
		{"follow_data", true, 600},
		{"wall_clock", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Config{
				Window: window.Config{
					Length:     time.Hour,
					FollowData: tt.followData,
					Now:        func() time.Time { return wall },
				},
				Logger: quietLogger(),
			})
			if err := m.Load(context.Background(), nil); err != nil {
				t.Fatalf("Load: %v", err)
			}
			src := &lines{data: []string{block(0, 600, 55)}, wait: func() {}}
			if err := m.Run(context.Background(), src); err != nil {
				t.Fatalf("Run: %v", err)
			}

			st := m.Stats()
			if st.Samples != tt.wantSamples || st.Outside != 600-tt.wantSamples {
				t.Errorf("samples=%d outside=%d, want %d added", st.Samples, st.Outside, tt.wantSamples)
			}
		})
	}
}

func TestRunDrivesController(t *testing.T) {
	mem := device.NewMemory(0)
	ctl := attenuation.New(attenuation.Config{
		Algorithm: attenuation.SlopeBased,
		Device:    mem,
		Bands: map[band.ID]attenuation.BandConfig{
			"31.5Hz": {Limit5m: 65, Limit1h: 65, MinIncDelay: 10 * time.Second, MinDecDelay: time.Minute},
		},
		Logger: quietLogger(),
	})

	rec := &recorder{}
	cfg := fixedConfig()
	cfg.Controller = ctl
	cfg.Observers = []Observer{rec}
	m := New(cfg)

	var data []string
	for i := 0; i < 300; i++ {
		data = append(data, line(t0.Add(time.Duration(i)*time.Second), 70))
	}
	if err := m.Run(context.Background(), &lines{data: data, wait: m.Wait}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := m.Stats()
	if st.Passes != 300 || st.Writes == 0 || st.ReadErrors != 0 {
		t.Errorf("stats = %+v", st)
	}
	if st.LowestGain >= 0 || st.LowestGain < attenuation.MinGain {
		t.Errorf("lowest gain %v outside (-12, 0)", st.LowestGain)
	}

	gains, err := mem.Gains(0)
	if err != nil {
		t.Fatal(err)
	}
	var applied float64
	for _, g := range gains {
		if g.Frequency == 31.5 {
			applied = g.Level
		}
	}
	bands := ctl.Bands()
	if len(bands) != 1 || bands[0].State.Level != applied {
		t.Errorf("controller level %v, device level %v", bands[0].State.Level, applied)
	}
	if applied >= 0 {
		t.Errorf("no attenuation applied after 5 minutes above the limit")
	}

	snap := m.Snapshot()
	if snap.State.Status != window.Running || snap.Algorithm != attenuation.SlopeBased {
		t.Errorf("snapshot %v / %v", snap.State.Status, snap.Algorithm)
	}
	if !snap.Bands[1].Controlled || snap.Bands[1].Limit5m != 65 {
		t.Errorf("controlled band view = %+v", snap.Bands[1])
	}
	if rec.passes != 300 {
		t.Errorf("observer saw %d passes, want 300", rec.passes)
	}
}

func TestBackfillDoesNotControl(t *testing.T) {
	mem := device.NewMemory(0)
	ctl := attenuation.New(attenuation.Config{
		Algorithm: attenuation.SlopeBased,
		Device:    mem,
		Bands:     map[band.ID]attenuation.BandConfig{"31.5Hz": {Limit5m: 65, Limit1h: 65}},
		Logger:    quietLogger(),
	})
	cfg := fixedConfig()
	cfg.Controller = ctl
	m := New(cfg)

	if err := m.Ingest(context.Background(), block(0, 60, 80)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	m.Wait()
	if reads, writes := mem.Calls(); reads != 0 || writes != 0 {
		t.Errorf("device touched before the live feed started: %d reads, %d writes", reads, writes)
	}
}

func TestUpdateBandConfigMovesThresholds(t *testing.T) {
	m := New(fixedConfig())
	ctx := context.Background()

	m.UpdateBandConfig(map[band.ID]attenuation.BandConfig{"31.5Hz": {Limit5m: 90, Limit1h: 90}})
	if err := m.Ingest(ctx, block(0, 3, 70)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	v := m.Snapshot().Bands[1]
	if v.Limit1h != 90 || v.Color != window.Green {
		t.Errorf("band view after update = %+v", v)
	}
}

func writeHour(t *testing.T, s *feed.Store, hour time.Time, data string) {
	t.Helper()
	path := s.Path(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}
