package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBridge(t *testing.T) (*Memory, *Client) {
	t.Helper()
	mem := NewMemory(0)
	srv := httptest.NewServer(NewServer(mem, quietLogger(), nil))
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Input: "InA", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return mem, c
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"3", 3, false},
		{"InA", 0, false},
		{"inb", 1, false},
		{"InD", 3, false},
		{"4", 0, true},
		{"Out1", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChannel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseChannel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseChannel(%q) = %d, want %d", tt.in, got, tt.want)
			}
			if err != nil && !errors.Is(err, ErrUnknownInput) {
				t.Errorf("error %v does not wrap ErrUnknownInput", err)
			}
		})
	}
}

func TestClientReadGains(t *testing.T) {
	mem, c := newBridge(t)
	if _, err := mem.Set(0, 63, -4.5); err != nil {
		t.Fatalf("Set: %v", err)
	}

	gains, err := c.ReadGains(context.Background())
	if err != nil {
		t.Fatalf("ReadGains: %v", err)
	}
	if len(gains) != 31 {
		t.Fatalf("got %d bands, want 31", len(gains))
	}
	found := false
	for _, g := range gains {
		if g.Frequency == 63 {
			found = true
			if g.Level != -4.5 {
				t.Errorf("63 Hz level = %v, want -4.5", g.Level)
			}
		}
	}
	if !found {
		t.Error("63 Hz band missing from gain table")
	}
}

func TestClientWriteGain(t *testing.T) {
	mem, c := newBridge(t)

	if err := c.WriteGain(context.Background(), 0, 31.5, -3); err != nil {
		t.Fatalf("WriteGain: %v", err)
	}
	if err := c.WriteGain(context.Background(), 1, 1250, -1.5); err != nil {
		t.Fatalf("WriteGain channel 1: %v", err)
	}

	a, _ := mem.Gains(0)
	b, _ := mem.Gains(1)
	for _, g := range a {
		if g.Frequency == 31.5 && g.Level != -3 {
			t.Errorf("InA 31.5 Hz = %v, want -3", g.Level)
		}
	}
	for _, g := range b {
		if g.Frequency == 1250 && g.Level != -1.5 {
			t.Errorf("InB 1.25 kHz = %v, want -1.5", g.Level)
		}
	}
}

func TestClientWriteErrors(t *testing.T) {
	_, c := newBridge(t)

	tests := []struct {
		name   string
		freq   float64
		level  float64
		status int
	}{
		{"unknown_band", 7, -3, http.StatusNotFound},
		{"out_of_range", 100, -40, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.WriteGain(context.Background(), 0, tt.freq, tt.level)
			var se *StatusError
			if !errors.As(err, &se) || se.Code != tt.status {
				t.Errorf("error = %v, want status %d", err, tt.status)
			}
		})
	}
}

func TestServerRejectsBadBody(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewMemory(0), quietLogger(), nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/inchannel/0/geq/100", "application/json", strings.NewReader(`{"gain":1}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestClientBreakerOpens(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "device offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{
		BaseURL:          srv.URL,
		Logger:           quietLogger(),
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := c.ReadGains(context.Background()); err == nil {
			t.Fatalf("read %d succeeded against a failing bridge", i)
		}
	}
	_, err = c.ReadGains(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want open breaker", err)
	}
	if calls != 3 {
		t.Errorf("bridge called %d times, want 3", calls)
	}
	if c.BreakerState() != "open" {
		t.Errorf("BreakerState() = %q", c.BreakerState())
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "localhost:3000", "://x"} {
		if _, err := NewClient(ClientConfig{BaseURL: u}); err == nil {
			t.Errorf("NewClient(%q) accepted an invalid URL", u)
		}
	}
}

func TestMemoryFailureInjection(t *testing.T) {
	m := NewMemory(0)
	boom := errors.New("boom")

	m.FailReads(boom)
	if _, err := m.ReadGains(context.Background()); !errors.Is(err, boom) {
		t.Errorf("ReadGains error = %v, want injected", err)
	}
	m.FailReads(nil)
	m.FailWrites(boom)
	if err := m.WriteGain(context.Background(), 0, 100, -1); !errors.Is(err, boom) {
		t.Errorf("WriteGain error = %v, want injected", err)
	}
	if reads, writes := m.Calls(); reads != 1 || writes != 1 {
		t.Errorf("Calls() = %d, %d", reads, writes)
	}
}
