package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/linuxmatters/nmeq/internal/attenuation"
)

var _ attenuation.Device = (*Client)(nil)
var _ attenuation.Device = (*Memory)(nil)

// DefaultTimeout bounds every bridge request.
const DefaultTimeout = 2 * time.Second

// ClientConfig configures the bridge client.
type ClientConfig struct {
	BaseURL    string // e.g. http://localhost:3000
	Input      string // input read by ReadGains, e.g. InA
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Consecutive failures that open the breaker, and how long it stays
	// open before a trial request is let through.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// StatusError is returned for non-2xx bridge responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge status %d: %s", e.Code, e.Body)
}

// Client talks to the equaliser bridge REST API:
//
//	GET  /api/inchannel/{input}/geq/              -> [{bandId, frequency, level}]
//	POST /api/inchannel/{channel}/geq/{frequency} <- {"level": x}
type Client struct {
	base  *url.URL
	input string
	http  *http.Client
	cb    *gobreaker.CircuitBreaker
	log   *slog.Logger
}

// NewClient validates the configuration and builds a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid bridge URL %q", cfg.BaseURL)
	}
	if cfg.Input == "" {
		cfg.Input = inputNames[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}

	log := cfg.Logger
	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eq-bridge",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("breaker_state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		base:  base,
		input: cfg.Input,
		http:  cfg.HTTPClient,
		cb:    cb,
		log:   log,
	}, nil
}

// BreakerState reports the circuit breaker state (closed, half-open, open).
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// ReadGains fetches the gain table of the configured input.
func (c *Client) ReadGains(ctx context.Context) ([]attenuation.Gain, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/inchannel/"+url.PathEscape(c.input)+"/geq/", nil)
	if err != nil {
		return nil, err
	}
	var gains []attenuation.Gain
	if err := json.Unmarshal(body, &gains); err != nil {
		return nil, fmt.Errorf("decode gains: %w", err)
	}
	return gains, nil
}

// WriteGain sets one band of a channel.
func (c *Client) WriteGain(ctx context.Context, channel int, frequency, level float64) error {
	payload, err := json.Marshal(struct {
		Level float64 `json:"level"`
	}{level})
	if err != nil {
		return err
	}
	path := "/api/inchannel/" + strconv.Itoa(channel) + "/geq/" + strconv.FormatFloat(frequency, 'f', -1, 64)
	_, err = c.do(ctx, http.MethodPost, path, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	u := *c.base
	u.Path = c.base.Path + path

	out, err := c.cb.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		c.log.Debug("bridge_request",
			"method", method,
			"path", u.Path,
			"status", resp.StatusCode,
			"elapsed", time.Since(start))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	return out.([]byte), nil
}
