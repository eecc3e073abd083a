// Package metrics exposes monitor and controller activity to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/monitor"
	"github.com/linuxmatters/nmeq/internal/window"
)

// Metrics implements monitor.Observer. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	samples      prometheus.Counter
	linesDropped *prometheus.CounterVec
	ordering     prometheus.Counter
	nanFields    prometheus.Counter
	buffered     prometheus.Gauge

	level *prometheus.GaugeVec
	color *prometheus.GaugeVec

	passes  *prometheus.CounterVec
	changes *prometheus.CounterVec
	gain    *prometheus.GaugeVec

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nmeq_samples_total",
			Help: "Samples added to the window.",
		}),
		linesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmeq_lines_dropped_total",
			Help: "Raw lines not added to the window, by reason.",
		}, []string{"reason"}),
		ordering: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nmeq_ordering_violations_total",
			Help: "Batches rejected for samples out of chronological order.",
		}),
		nanFields: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nmeq_nan_fields_total",
			Help: "NaN values met while projecting min/max.",
		}),
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nmeq_window_samples",
			Help: "Samples held in the window buffer.",
		}),
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nmeq_level_db",
			Help: "Newest rolling average level by band and span.",
		}, []string{"band", "span"}),
		color: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nmeq_band_color",
			Help: "Traffic light color (0 green, 1 yellow, 2 orange, 3 red, 4 black).",
		}, []string{"band"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmeq_attenuation_passes_total",
			Help: "Controller passes by result.",
		}, []string{"result"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nmeq_attenuation_changes_total",
			Help: "Gain writes by band and result.",
		}, []string{"band", "result"}),
		gain: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nmeq_attenuation_gain_db",
			Help: "Last gain written per band.",
		}, []string{"band"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.samples,
		m.linesDropped,
		m.ordering,
		m.nanFields,
		m.buffered,
		m.level,
		m.color,
		m.passes,
		m.changes,
		m.gain,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// WatchBreaker exports a circuit breaker state read on every scrape
// (0 closed, 1 half-open, 2 open).
func (m *Metrics) WatchBreaker(target string, state func() string) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "nmeq_breaker_state",
		Help:        "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		ConstLabels: prometheus.Labels{"target": target},
	}, func() float64 {
		switch state() {
		case "half-open":
			return 1
		case "open":
			return 2
		}
		return 0
	}))
}

// Ingested implements monitor.Observer.
func (m *Metrics) Ingested(b monitor.Batch) {
	if m == nil {
		return
	}
	if b.Err != nil {
		m.ordering.Inc()
		return
	}
	m.samples.Add(float64(b.Samples))
	m.linesDropped.WithLabelValues("malformed").Add(float64(b.Skipped))
	m.linesDropped.WithLabelValues("stale").Add(float64(b.Stale))
	m.linesDropped.WithLabelValues("outside").Add(float64(b.Outside))
	m.nanFields.Add(float64(b.NaNFields))
}

// Snapshot implements monitor.Observer.
func (m *Metrics) Snapshot(s monitor.Snapshot) {
	if m == nil {
		return
	}
	m.buffered.Set(float64(s.Buffered))
	for _, v := range s.Bands {
		id := string(v.Band)
		m.level.WithLabelValues(id, window.TenSeconds.String()).Set(v.Avg10s)
		m.level.WithLabelValues(id, window.FiveMinutes.String()).Set(v.Avg5m)
		m.level.WithLabelValues(id, window.OneHour.String()).Set(v.Avg1h)
		m.color.WithLabelValues(id).Set(float64(v.Color))
	}
}

// Pass implements monitor.Observer.
func (m *Metrics) Pass(p attenuation.Pass, err error) {
	if m == nil {
		return
	}
	switch {
	case p.Skipped:
		m.passes.WithLabelValues("busy").Inc()
		return
	case errors.Is(err, attenuation.ErrDeviceRead):
		m.passes.WithLabelValues("read_error").Inc()
		return
	case err != nil:
		m.passes.WithLabelValues("error").Inc()
		return
	}
	m.passes.WithLabelValues("ok").Inc()

	for _, ch := range p.Changes {
		id := string(ch.Band)
		if ch.Err != nil {
			m.changes.WithLabelValues(id, "error").Inc()
			continue
		}
		m.changes.WithLabelValues(id, "ok").Inc()
		m.gain.WithLabelValues(id).Set(ch.To)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request counts and durations for route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
