// Package ui provides the Bubbletea terminal user interface for nmeq
package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/monitor"
)

// maxEvents bounds the attenuation history shown under the band table.
const maxEvents = 8

// Event is one attenuation change or failure shown in the history.
type Event struct {
	Time   time.Time
	Change attenuation.Change
	Err    error // pass-level failure, Change is zero
}

// Model is the Bubbletea model for the traffic light view
type Model struct {
	Source string

	// Latest monitor state
	Snapshot monitor.Snapshot
	HasData  bool

	// Ingestion counters
	Samples int
	Skipped int
	Stale   int

	// Attenuation history, newest last
	Events []Event
	Passes int

	LastErr   error
	StartTime time.Time
	Done      bool
	Err       error

	// Channel for receiving monitor events
	Updates chan tea.Msg

	// Terminal dimensions
	Width  int
	Height int
}

// NewModel creates a model for a feed read from source
func NewModel(source string) Model {
	return Model{
		Source:    source,
		StartTime: time.Now(),
		Updates:   make(chan tea.Msg, 100),
	}
}

// Init starts listening for monitor events
func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.Updates)
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case SnapshotMsg:
		m.Snapshot = msg.Snapshot
		m.HasData = true
		return m, waitForUpdate(m.Updates)

	case BatchMsg:
		m.Samples += msg.Batch.Samples
		m.Skipped += msg.Batch.Skipped
		m.Stale += msg.Batch.Stale
		if msg.Batch.Err != nil {
			m.LastErr = msg.Batch.Err
		}
		return m, waitForUpdate(m.Updates)

	case PassMsg:
		m = m.recordPass(msg)
		return m, waitForUpdate(m.Updates)

	case DoneMsg:
		m.Done = true
		m.Err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if m.Done {
		return renderSummary(m)
	}
	if !m.HasData {
		return renderHeader(m) + "\n\nWaiting for data...\n"
	}
	return renderMonitorView(m)
}

func (m Model) recordPass(msg PassMsg) Model {
	if msg.Pass.Skipped {
		return m
	}
	m.Passes++
	if msg.Err != nil {
		m.LastErr = msg.Err
		m.Events = append(m.Events, Event{Time: msg.Pass.Time, Err: msg.Err})
	}
	for _, ch := range msg.Pass.Changes {
		m.Events = append(m.Events, Event{Time: msg.Pass.Time, Change: ch})
		if ch.Err != nil {
			m.LastErr = ch.Err
		}
	}
	if n := len(m.Events); n > maxEvents {
		m.Events = append([]Event(nil), m.Events[n-maxEvents:]...)
	}
	return m
}

// waitForUpdate creates a command that waits for monitor events
func waitForUpdate(updates chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}
