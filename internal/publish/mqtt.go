// Package publish sends attenuation changes and traffic light status to an
// MQTT broker.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/monitor"
)

// Config selects the broker and topic prefix.
type Config struct {
	Broker   string // tcp://host:1883
	ClientID string // generated when empty
	Prefix   string // topic prefix, "nmeq" when empty
	Timeout  time.Duration
}

// Publisher implements monitor.Observer over MQTT. Messages are QoS 0;
// status is retained so a new subscriber sees the current lights.
type Publisher struct {
	monitor.Base

	client  mqtt.Client
	prefix  string
	timeout time.Duration
	log     *slog.Logger
}

// Connect dials the broker.
func Connect(cfg Config, log *slog.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker address is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "nmeq-" + uuid.NewString()
	}
	p := newPublisher(nil, cfg, log)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(p.timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.Warn("mqtt_connection_lost", "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			p.log.Info("mqtt_connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
		})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(p.timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", cfg.Broker, p.timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	p.client = c
	return p, nil
}

// New wraps an already connected client.
func New(client mqtt.Client, cfg Config, log *slog.Logger) *Publisher {
	return newPublisher(client, cfg, log)
}

func newPublisher(client mqtt.Client, cfg Config, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "nmeq"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		log:     log.With(slog.String("component", "mqtt")),
	}
}

// ChangeMessage is published to <prefix>/attenuation/<band>.
type ChangeMessage struct {
	Pass      string    `json:"pass"`
	Time      time.Time `json:"time"`
	Band      string    `json:"band"`
	Frequency float64   `json:"frequency"`
	From      float64   `json:"from"`
	To        float64   `json:"to"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error,omitempty"`
}

// BandMessage is one band of a StatusMessage. Missing values are null.
type BandMessage struct {
	Band    string   `json:"band"`
	Color   string   `json:"color"`
	Level   *float64 `json:"level"`
	Avg10s  *float64 `json:"avg10s"`
	Avg5m   *float64 `json:"avg5m"`
	Avg1h   *float64 `json:"avg1h"`
	Limit5m *float64 `json:"limit5m"`
	Limit1h *float64 `json:"limit1h"`
	Gain    *float64 `json:"gain,omitempty"`
}

// StatusMessage is published to <prefix>/status.
type StatusMessage struct {
	Time      time.Time     `json:"time"`
	Status    string        `json:"status"`
	Algorithm string        `json:"algorithm"`
	SyncFrom  string        `json:"syncFrom"`
	Bands     []BandMessage `json:"bands"`
}

// Snapshot implements monitor.Observer.
func (p *Publisher) Snapshot(s monitor.Snapshot) {
	msg := StatusMessage{
		Time:      s.Time,
		Status:    s.State.Status.String(),
		Algorithm: s.Algorithm.String(),
		SyncFrom:  s.SyncFrom,
	}
	for _, v := range s.Bands {
		bm := BandMessage{
			Band:    string(v.Band),
			Color:   v.Color.String(),
			Level:   num(v.Level),
			Avg10s:  num(v.Avg10s),
			Avg5m:   num(v.Avg5m),
			Avg1h:   num(v.Avg1h),
			Limit5m: num(v.Limit5m),
			Limit1h: num(v.Limit1h),
		}
		if v.Controlled {
			bm.Gain = num(v.Gain)
		}
		msg.Bands = append(msg.Bands, bm)
	}
	p.publish(p.prefix+"/status", true, msg)
}

// Pass implements monitor.Observer.
func (p *Publisher) Pass(pass attenuation.Pass, err error) {
	if err != nil || pass.Skipped {
		return
	}
	for _, ch := range pass.Changes {
		msg := ChangeMessage{
			Pass:      pass.ID.String(),
			Time:      pass.Time,
			Band:      string(ch.Band),
			Frequency: ch.Frequency,
			From:      ch.From,
			To:        ch.To,
			Reason:    ch.Reason.String(),
		}
		if ch.Err != nil {
			msg.Error = ch.Err.Error()
		}
		p.publish(p.prefix+"/attenuation/"+string(ch.Band), false, msg)
	}
}

func (p *Publisher) publish(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error("mqtt_marshal_failed", "topic", topic, "error", err)
		return
	}
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		p.log.Warn("mqtt_publish_timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn("mqtt_publish_failed", "topic", topic, "error", err)
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
