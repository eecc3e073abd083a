package attenuation

import (
	"math"
	"time"
)

const (
	// MinGain is the deepest attenuation the controller commands.
	MinGain = -12.0

	// MaxGain is the neutral equaliser setting.
	MaxGain = 0.0

	// slopeFactor bounds how fast a level may still rise so that it does
	// not cross the limit within the next ten seconds.
	slopeFactor = 0.1

	relaxStep = 0.5

	// gainEpsilon absorbs device rounding when comparing levels.
	gainEpsilon = 1e-6
)

// BandConfig holds the limits and dwell times of one controlled band.
type BandConfig struct {
	Limit5m     float64
	Limit1h     float64
	MinIncDelay time.Duration
	MinDecDelay time.Duration
}

// BandState is the controller's view of one band. Each pass replaces it as
// a whole value.
type BandState struct {
	Level      float64   // last commanded gain, within [MinGain, MaxGain]
	LastUpdate time.Time // zero until the first change
	LastInput  float64   // 10 s level at the last change
	Observed   float64   // device gain seen in the latest pass
}

// Reason explains the outcome of a per-band decision.
type Reason int

const (
	Steady      Reason = iota // slope within bounds, nothing to relax
	RateLimited               // inside min(MinIncDelay, MinDecDelay) of the last change
	Waiting                   // rising, but MinIncDelay has not elapsed
	Pending                   // rising, but the device has not applied the last command
	Increase                  // attenuation deepened
	Relax                     // attenuation eased
)

func (r Reason) String() string {
	switch r {
	case Steady:
		return "steady"
	case RateLimited:
		return "rate_limited"
	case Waiting:
		return "waiting"
	case Pending:
		return "pending"
	case Increase:
		return "increase"
	case Relax:
		return "relax"
	}
	return "unknown"
}

// writes reports whether a decision may be followed by a device write.
func (r Reason) writes() bool {
	return r != RateLimited && r != Waiting
}

// increaseStep escalates the attenuation step with the peak excess over
// the limit.
func increaseStep(excess float64) float64 {
	switch {
	case excess > 4:
		return 3
	case excess > 2:
		return 1
	}
	return 0.5
}

// decide computes the next state of one band from its 10 s level and the
// gain the device reports. It has no side effects.
func decide(cfg BandConfig, st BandState, level, observed float64, now time.Time) (BandState, Reason) {
	var elapsed time.Duration
	hasPrior := !st.LastUpdate.IsZero()
	if hasPrior {
		elapsed = now.Sub(st.LastUpdate)
		if elapsed < min(cfg.MinIncDelay, cfg.MinDecDelay) {
			return st, RateLimited
		}
	}

	slope := 0.0
	if hasPrior && elapsed > 0 {
		slope = (level - st.LastInput) / (float64(elapsed) / float64(time.Millisecond))
	}
	maxAllowed := (cfg.Limit5m - level) * slopeFactor

	next := st
	if slope > maxAllowed {
		if hasPrior && elapsed < cfg.MinIncDelay {
			return st, Waiting
		}
		if !sameGain(st.Level, observed) {
			return st, Pending
		}
		next.Level = math.Max(st.Level-increaseStep(level-cfg.Limit5m), MinGain)
		next.LastUpdate = now
		next.LastInput = level
		return next, Increase
	}

	if hasPrior && elapsed >= cfg.MinDecDelay && st.Level < MaxGain {
		next.Level = math.Min(st.Level+relaxStep, MaxGain)
		next.LastUpdate = now
		next.LastInput = level
		return next, Relax
	}
	return st, Steady
}

func sameGain(a, b float64) bool {
	return math.Abs(a-b) < gainEpsilon
}
