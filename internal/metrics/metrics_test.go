package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/monitor"
	"github.com/linuxmatters/nmeq/internal/window"
)

func TestIngested(t *testing.T) {
	m := New()
	m.Ingested(monitor.Batch{Samples: 10, Skipped: 2, Stale: 3, NaNFields: 1})
	m.Ingested(monitor.Batch{Samples: 5})
	m.Ingested(monitor.Batch{Err: errors.New("out of order")})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"samples", testutil.ToFloat64(m.samples), 15},
		{"malformed", testutil.ToFloat64(m.linesDropped.WithLabelValues("malformed")), 2},
		{"stale", testutil.ToFloat64(m.linesDropped.WithLabelValues("stale")), 3},
		{"ordering", testutil.ToFloat64(m.ordering), 1},
		{"nan", testutil.ToFloat64(m.nanFields), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestPass(t *testing.T) {
	m := New()
	m.Pass(attenuation.Pass{Changes: []attenuation.Change{
		{Band: "63Hz", To: -1},
		{Band: "80Hz", To: -3, Err: attenuation.ErrDeviceWrite},
	}}, nil)
	m.Pass(attenuation.Pass{Skipped: true}, nil)
	m.Pass(attenuation.Pass{}, fmt.Errorf("%w: timeout", attenuation.ErrDeviceRead))

	if got := testutil.ToFloat64(m.passes.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok passes = %v", got)
	}
	if got := testutil.ToFloat64(m.passes.WithLabelValues("busy")); got != 1 {
		t.Errorf("busy passes = %v", got)
	}
	if got := testutil.ToFloat64(m.passes.WithLabelValues("read_error")); got != 1 {
		t.Errorf("read_error passes = %v", got)
	}
	if got := testutil.ToFloat64(m.gain.WithLabelValues("63Hz")); got != -1 {
		t.Errorf("63Hz gain = %v", got)
	}
	if got := testutil.ToFloat64(m.changes.WithLabelValues("80Hz", "error")); got != 1 {
		t.Errorf("80Hz write errors = %v", got)
	}
	if n := testutil.CollectAndCount(m.gain); n != 1 {
		t.Errorf("failed write exported a gain: %d series", n)
	}
}

func TestSnapshotAndHandler(t *testing.T) {
	m := New()
	m.WatchBreaker("bridge", func() string { return "open" })
	m.Snapshot(monitor.Snapshot{
		Buffered: 42,
		Bands: []monitor.BandView{
			{Band: "31.5Hz", Avg10s: 71, Avg5m: 68, Avg1h: 60, Color: window.Orange},
		},
	})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`nmeq_window_samples 42`,
		`nmeq_level_db{band="31.5Hz",span="5m"} 68`,
		`nmeq_band_color{band="31.5Hz"} 2`,
		`nmeq_breaker_state{target="bridge"} 2`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestWrapHandler(t *testing.T) {
	m := New()
	h := m.WrapHandler("geq", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("geq", "404")); got != 1 {
		t.Errorf("requests{geq,404} = %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Ingested(monitor.Batch{Samples: 1})
	m.Snapshot(monitor.Snapshot{})
	m.Pass(attenuation.Pass{}, nil)
	m.WatchBreaker("x", func() string { return "" })

	rec := httptest.NewRecorder()
	m.WrapHandler("x", http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("wrapped handler status = %d", rec.Code)
	}
}
