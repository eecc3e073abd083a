// Package config loads nmeq settings from a TOML file or from the
// remoteConfig.json format used by the monitor's storage account.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/band"
)

// MaxRollingLength caps a rolling window; longer views need a fixed start.
const MaxRollingLength = 2 * time.Hour

// Duration accepts "90s" style strings, or integer milliseconds as used by
// remoteConfig.json.
type Duration struct {
	time.Duration
}

// UnmarshalTOML implements toml.Unmarshaler.
func (d *Duration) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		return d.UnmarshalText([]byte(x))
	case int64:
		d.Duration = time.Duration(x) * time.Millisecond
	case float64:
		d.Duration = time.Duration(x * float64(time.Millisecond))
	default:
		return fmt.Errorf("duration: unsupported value %v (%T)", v, v)
	}
	return nil
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalJSON accepts milliseconds or a duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms float64
	if err := json.Unmarshal(b, &ms); err == nil {
		d.Duration = time.Duration(ms * float64(time.Millisecond))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration: %s is neither milliseconds nor a string", b)
	}
	return d.UnmarshalText([]byte(s))
}

// Band holds the limits and dwell times of one band.
type Band struct {
	Limit5m     float64  `toml:"limit5m" json:"limit5m"`
	Limit1h     float64  `toml:"limit1h" json:"limit1h"`
	MinIncDelay Duration `toml:"minIncDelay" json:"minIncDelay"`
	MinDecDelay Duration `toml:"minDecDelay" json:"minDecDelay"`
}

// Window selects the aggregation window.
type Window struct {
	Length        Duration  `toml:"length"`
	Start         time.Time `toml:"start"` // zero for a rolling window
	AggregatePast bool      `toml:"aggregate_past"`
}

// Device configures the EQ bridge.
type Device struct {
	URL              string   `toml:"url"`
	Input            string   `toml:"input"`
	Timeout          Duration `toml:"timeout"`
	FailureThreshold uint32   `toml:"failure_threshold"`
	OpenTimeout      Duration `toml:"open_timeout"`
}

// Kafka configures the live Kafka feed.
type Kafka struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

// Feed configures where raw lines come from.
type Feed struct {
	DataDir string   `toml:"data_dir"`
	Poll    Duration `toml:"poll"`
	Kafka   Kafka    `toml:"kafka"`
}

// MQTT configures the status publisher.
type MQTT struct {
	Broker   string `toml:"broker"`
	Prefix   string `toml:"prefix"`
	ClientID string `toml:"client_id"`
}

// Config is the complete settings file.
type Config struct {
	Algorithm        string          `toml:"algorithm" json:"algorithm"`
	AttenuationBands []string        `toml:"attenuation_bands" json:"attenuationBands"`
	Bands            map[string]Band `toml:"band" json:"bandConfig"`

	Window      Window `toml:"window" json:"-"`
	Device      Device `toml:"device" json:"-"`
	Feed        Feed   `toml:"feed" json:"-"`
	MQTT        MQTT   `toml:"mqtt" json:"-"`
	MetricsAddr string `toml:"metrics_addr" json:"-"`
}

// Default returns the built-in settings. No band carries limits until a
// settings file provides them.
func Default() Config {
	controlled := make([]string, len(band.DefaultControlled))
	for i, id := range band.DefaultControlled {
		controlled[i] = string(id)
	}
	return Config{
		Algorithm:        attenuation.SlopeBased.String(),
		AttenuationBands: controlled,
		Bands:            map[string]Band{},
		Window: Window{
			Length: Duration{time.Hour},
		},
		Device: Device{
			URL:              "http://localhost:3000",
			Input:            "InA",
			Timeout:          Duration{2 * time.Second},
			FailureThreshold: 5,
			OpenTimeout:      Duration{30 * time.Second},
		},
		Feed: Feed{
			Poll: Duration{time.Second},
		},
		MQTT: MQTT{
			Prefix: "nmeq",
		},
	}
}

// Load reads path over the defaults. A ".json" file is read in the
// remoteConfig.json layout; anything else is TOML. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	default:
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("parse %s: unknown keys %s", filepath.Base(path), strings.Join(keys, ", "))
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Window.Length.Duration < 10*time.Second {
		errs = append(errs, fmt.Errorf("window length %s is shorter than 10s", c.Window.Length.Duration))
	}
	for _, name := range c.AttenuationBands {
		if _, ok := band.Index(band.Normalize(name)); !ok {
			errs = append(errs, fmt.Errorf("attenuation band %q is unknown", name))
		}
	}
	for name, b := range c.Bands {
		if _, ok := band.Index(band.Normalize(name)); !ok {
			errs = append(errs, fmt.Errorf("band %q is unknown", name))
		}
		if math.IsNaN(b.Limit5m) || math.IsNaN(b.Limit1h) {
			errs = append(errs, fmt.Errorf("band %q: limits must be numbers", name))
		}
		if b.MinIncDelay.Duration < 0 || b.MinDecDelay.Duration < 0 {
			errs = append(errs, fmt.Errorf("band %q: delays must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// WindowLength returns the configured length, capped for rolling windows.
func (c Config) WindowLength() time.Duration {
	if c.Window.Start.IsZero() && c.Window.Length.Duration > MaxRollingLength {
		return MaxRollingLength
	}
	return c.Window.Length.Duration
}

// Controlled returns the attenuation bands in canonical spelling.
func (c Config) Controlled() []band.ID {
	out := make([]band.ID, 0, len(c.AttenuationBands))
	for _, name := range c.AttenuationBands {
		out = append(out, band.Normalize(name))
	}
	return out
}

// ControlBands returns the band settings of the attenuation bands that have
// a configuration entry. Attenuation bands without one are not controlled.
func (c Config) ControlBands() map[band.ID]attenuation.BandConfig {
	byID := c.byID()
	out := make(map[band.ID]attenuation.BandConfig)
	for _, id := range c.Controlled() {
		if b, ok := byID[id]; ok {
			out[id] = attenuation.BandConfig{
				Limit5m:     b.Limit5m,
				Limit1h:     b.Limit1h,
				MinIncDelay: b.MinIncDelay.Duration,
				MinDecDelay: b.MinDecDelay.Duration,
			}
		}
	}
	return out
}

// Thresholds returns the 1 hour limit of every configured band.
func (c Config) Thresholds() map[band.ID]float64 {
	out := make(map[band.ID]float64, len(c.Bands))
	for id, b := range c.byID() {
		out[id] = b.Limit1h
	}
	return out
}

// Unconfigured lists attenuation bands without limits, sorted.
func (c Config) Unconfigured() []band.ID {
	byID := c.byID()
	var out []band.ID
	for _, id := range c.Controlled() {
		if _, ok := byID[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c Config) byID() map[band.ID]Band {
	out := make(map[band.ID]Band, len(c.Bands))
	for name, b := range c.Bands {
		out[band.Normalize(name)] = b
	}
	return out
}
