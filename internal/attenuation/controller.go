// Package attenuation drives per-band equaliser gain from recent band
// levels so that 5 minute levels stay under their limits.
//
// A Controller runs at most one pass at a time. A pass reads the device
// gain table once, decides each configured band independently and writes
// the bands whose target differs from what the device reports.
package attenuation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/linuxmatters/nmeq/internal/band"
)

// Algorithm selects the control strategy.
type Algorithm int

const (
	NoOp Algorithm = iota
	SlopeBased
)

func (a Algorithm) String() string {
	if a == SlopeBased {
		return "slope"
	}
	return "noop"
}

// ParseAlgorithm maps a configured name to an Algorithm. Unknown names
// select NoOp and report false.
func ParseAlgorithm(name string) (Algorithm, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "slope", "slopebased", "attnslopebased":
		return SlopeBased, true
	case "noop", "attnnoop", "":
		return NoOp, true
	}
	return NoOp, false
}

// Config configures a Controller.
type Config struct {
	Algorithm Algorithm
	Bands     map[band.ID]BandConfig
	Device    Device
	Channel   int // equaliser channel written to
	Logger    *slog.Logger
	Now       func() time.Time
}

// Input is the controller's view of the newest aggregated sample.
type Input struct {
	Time   time.Time
	Levels map[band.ID]float64 // 10 s levels
}

// Change records one band written during a pass.
type Change struct {
	Band      band.ID
	Frequency float64
	From      float64 // device level before the pass
	To        float64
	Reason    Reason
	Err       error // wraps ErrDeviceWrite when the write failed
}

// Pass summarises one call to Update.
type Pass struct {
	ID      uuid.UUID
	Time    time.Time
	Changes []Change
	Skipped bool // another pass was in flight
}

// BandStatus is a read-only view of one controlled band.
type BandStatus struct {
	Band      band.ID
	Frequency float64
	Config    BandConfig
	State     BandState
}

// Controller is the closed-loop attenuation controller.
type Controller struct {
	log     *slog.Logger
	now     func() time.Time
	algo    Algorithm
	dev     Device
	channel int

	busy atomic.Bool

	mu    sync.Mutex
	order []band.ID
	freq  map[band.ID]float64
	cfg   map[band.ID]BandConfig
	state map[band.ID]BandState
}

// New builds a controller. Bands without an equaliser channel (weighted
// full-spectrum bands and Bass) are dropped. A SlopeBased controller
// without a device degrades to NoOp.
func New(cfg Config) *Controller {
	c := &Controller{
		log:     cfg.Logger,
		now:     cfg.Now,
		algo:    cfg.Algorithm,
		dev:     cfg.Device,
		channel: cfg.Channel,
		freq:    make(map[band.ID]float64),
		cfg:     make(map[band.ID]BandConfig),
		state:   make(map[band.ID]BandState),
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.algo == SlopeBased && c.dev == nil {
		c.log.Warn("attenuation_no_device", "algorithm", c.algo.String())
		c.algo = NoOp
	}

	for id, bc := range cfg.Bands {
		norm := band.Normalize(string(id))
		f, ok := band.Frequency(norm)
		if norm.FullSpectrum() || !ok {
			c.log.Warn("attenuation_band_ignored", "band", id, "reason", "no equaliser channel")
			continue
		}
		c.order = append(c.order, norm)
		c.freq[norm] = f
		c.cfg[norm] = bc
		c.state[norm] = BandState{}
	}
	sort.Slice(c.order, func(i, j int) bool { return c.freq[c.order[i]] < c.freq[c.order[j]] })

	c.log.Info("attenuation_controller",
		"algorithm", c.algo.String(),
		"bands", len(c.order),
		"channel", c.channel)
	return c
}

// Algorithm returns the active strategy.
func (c *Controller) Algorithm() Algorithm {
	return c.algo
}

// UpdateBandConfig replaces limits and dwell times of bands that are
// already controlled. Unknown bands are ignored. It returns the number of
// bands updated.
func (c *Controller) UpdateBandConfig(bands map[band.ID]BandConfig) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, bc := range bands {
		norm := band.Normalize(string(id))
		if _, ok := c.cfg[norm]; !ok {
			c.log.Debug("attenuation_config_ignored", "band", id)
			continue
		}
		c.cfg[norm] = bc
		n++
	}
	c.log.Info("attenuation_config_updated", "bands", n)
	return n
}

// Bands returns the controlled bands in ascending frequency order.
func (c *Controller) Bands() []BandStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]BandStatus, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, BandStatus{
			Band:      id,
			Frequency: c.freq[id],
			Config:    c.cfg[id],
			State:     c.state[id],
		})
	}
	return out
}

// Update runs one control pass on the newest 10 s levels. A call made while
// another pass is in flight returns immediately with Skipped set. A failed
// gain read aborts the pass with an error wrapping ErrDeviceRead; failed
// writes are reported on the returned changes.
func (c *Controller) Update(ctx context.Context, in Input) (Pass, error) {
	pass := Pass{ID: uuid.New(), Time: in.Time}
	if pass.Time.IsZero() {
		pass.Time = c.now()
	}

	switch c.algo {
	case SlopeBased:
		return c.slopeBased(ctx, pass, in)
	default:
		return pass, nil
	}
}

func (c *Controller) slopeBased(ctx context.Context, pass Pass, in Input) (Pass, error) {
	if !c.busy.CompareAndSwap(false, true) {
		c.log.Info("attenuation_pass_skipped", "pass", pass.ID, "reason", "pass in progress")
		pass.Skipped = true
		return pass, nil
	}
	defer c.busy.Store(false)

	gains, err := c.dev.ReadGains(ctx)
	if err != nil {
		c.log.Error("attenuation_read_failed", "pass", pass.ID, "error", err)
		return pass, fmt.Errorf("%w: %w", ErrDeviceRead, err)
	}

	levels := make(map[band.ID]float64, len(in.Levels))
	for id, v := range in.Levels {
		levels[band.Normalize(string(id))] = v
	}

	c.mu.Lock()
	order := append([]band.ID(nil), c.order...)
	c.mu.Unlock()

	for _, id := range order {
		level, ok := levels[id]
		if !ok || math.IsNaN(level) || math.IsInf(level, 0) {
			c.log.Debug("attenuation_no_level", "pass", pass.ID, "band", id)
			continue
		}

		c.mu.Lock()
		cfg, st, freq := c.cfg[id], c.state[id], c.freq[id]
		c.mu.Unlock()

		observed := lookupGain(gains, freq)
		next, reason := decide(cfg, st, level, observed, pass.Time)
		next.Observed = observed

		c.mu.Lock()
		c.state[id] = next
		c.mu.Unlock()

		c.log.Debug("attenuation_band",
			"pass", pass.ID,
			"band", id,
			"level_10s", level,
			"limit_5m", cfg.Limit5m,
			"gain", next.Level,
			"observed", observed,
			"reason", reason.String())

		if !reason.writes() || sameGain(next.Level, observed) {
			continue
		}

		ch := Change{Band: id, Frequency: freq, From: observed, To: next.Level, Reason: reason}
		if err := c.dev.WriteGain(ctx, c.channel, freq, next.Level); err != nil {
			ch.Err = fmt.Errorf("%w: %s: %w", ErrDeviceWrite, id, err)
			c.log.Warn("attenuation_write_failed", "pass", pass.ID, "band", id, "level", next.Level, "error", err)
		} else {
			c.log.Info("attenuation_set", "pass", pass.ID, "band", id, "from", observed, "to", next.Level, "reason", reason.String())
		}
		pass.Changes = append(pass.Changes, ch)
	}

	return pass, nil
}
