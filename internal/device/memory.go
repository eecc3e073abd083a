// Package device provides implementations of attenuation.Device: an HTTP
// client for the equaliser bridge, an in-memory graphic equaliser and a
// simulator serving the bridge API on top of it.
package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/band"
)

var (
	ErrUnknownBand  = errors.New("no equaliser band at frequency")
	ErrLevelRange   = errors.New("gain level out of range")
	ErrUnknownInput = errors.New("unknown input channel")
)

// Gain limits accepted by the equaliser
const (
	MinLevel = -15.0
	MaxLevel = 15.0
)

// inputNames are the bridge's names for input channels 0..3.
var inputNames = []string{"InA", "InB", "InC", "InD"}

// ParseChannel accepts a channel index ("0") or an input name ("InA").
func ParseChannel(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(inputNames) {
		return n, nil
	}
	for i, name := range inputNames {
		if strings.EqualFold(s, name) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownInput, s)
}

// ChannelName returns the bridge name of a channel index.
func ChannelName(ch int) string {
	if ch >= 0 && ch < len(inputNames) {
		return inputNames[ch]
	}
	return strconv.Itoa(ch)
}

// Memory is a four channel, 31 band graphic equaliser held in memory.
// Reads go to one input channel, writes may address any channel.
type Memory struct {
	mu       sync.Mutex
	input    int
	channels [][]attenuation.Gain

	readErr  error
	writeErr error
	reads    int
	writes   int
}

// NewMemory creates a flat equaliser whose ReadGains reports input.
func NewMemory(input int) *Memory {
	m := &Memory{input: input}
	ids := band.ThirdOctave(20, 20000)
	for range inputNames {
		geq := make([]attenuation.Gain, len(ids))
		for i, id := range ids {
			f, _ := band.Frequency(id)
			geq[i] = attenuation.Gain{Band: i, Frequency: f}
		}
		m.channels = append(m.channels, geq)
	}
	return m
}

// ReadGains returns the gain table of the input channel.
func (m *Memory) ReadGains(ctx context.Context) ([]attenuation.Gain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.gains(m.input)
}

// WriteGain sets one band of a channel.
func (m *Memory) WriteGain(ctx context.Context, channel int, frequency, level float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	_, err := m.set(channel, frequency, level)
	return err
}

// Gains returns a copy of a channel's gain table.
func (m *Memory) Gains(channel int) ([]attenuation.Gain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gains(channel)
}

// Set updates one band and returns its new state.
func (m *Memory) Set(channel int, frequency, level float64) (attenuation.Gain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(channel, frequency, level)
}

// FailReads makes subsequent reads fail with err, nil restores them.
func (m *Memory) FailReads(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// FailWrites makes subsequent writes fail with err, nil restores them.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Calls returns the number of reads and writes served.
func (m *Memory) Calls() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}

func (m *Memory) gains(channel int) ([]attenuation.Gain, error) {
	if channel < 0 || channel >= len(m.channels) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownInput, channel)
	}
	return append([]attenuation.Gain(nil), m.channels[channel]...), nil
}

func (m *Memory) set(channel int, frequency, level float64) (attenuation.Gain, error) {
	if channel < 0 || channel >= len(m.channels) {
		return attenuation.Gain{}, fmt.Errorf("%w: %d", ErrUnknownInput, channel)
	}
	if math.IsNaN(level) || level < MinLevel || level > MaxLevel {
		return attenuation.Gain{}, fmt.Errorf("%w: %v dB", ErrLevelRange, level)
	}
	geq := m.channels[channel]
	for i := range geq {
		if math.Abs(geq[i].Frequency-frequency) <= frequency*0.02 {
			geq[i].Level = level
			return geq[i], nil
		}
	}
	return attenuation.Gain{}, fmt.Errorf("%w: %v Hz", ErrUnknownBand, frequency)
}
