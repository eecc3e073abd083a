package ui

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/monitor"
	"github.com/linuxmatters/nmeq/internal/window"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func snapshot() monitor.Snapshot {
	return monitor.Snapshot{
		Time:      t0,
		Buffered:  42,
		Algorithm: attenuation.SlopeBased,
		State:     window.State{Kind: window.Rolling, Length: time.Hour, Status: window.Running},
		Bands: []monitor.BandView{
			{Band: "A", Level: 80, Avg10s: 79.5, Avg5m: 78, Avg1h: math.NaN(), Limit5m: math.NaN(), Color: window.Yellow},
			{Band: "50Hz", Level: 70, Avg10s: 70, Avg5m: 69, Avg1h: 68, Limit1h: 65, Gain: -3, Controlled: true, Color: window.Black, Hum: true},
		},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return out, cmd
}

func TestModelWaitsForData(t *testing.T) {
	m := NewModel("stdin")
	if !strings.Contains(m.View(), "Waiting for data") {
		t.Errorf("initial view:\n%s", m.View())
	}
	if m.Init() == nil {
		t.Error("Init should listen for updates")
	}
}

func TestModelSnapshot(t *testing.T) {
	m, cmd := update(t, NewModel("stdin"), SnapshotMsg{Snapshot: snapshot()})
	if cmd == nil {
		t.Error("snapshot should keep listening")
	}
	if !m.HasData {
		t.Fatal("HasData not set")
	}

	view := m.View()
	for _, want := range []string{"rolling 1h0m0s window", "running", "slope", "79.5", "black", "mains hum", "-3.0", "65.0", "42 buffered"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelBatchCounters(t *testing.T) {
	m := NewModel("stdin")
	m, _ = update(t, m, BatchMsg{Batch: monitor.Batch{Samples: 10, Skipped: 2, Stale: 1}})
	m, _ = update(t, m, BatchMsg{Batch: monitor.Batch{Samples: 5, Err: errors.New("boom")}})

	if m.Samples != 15 || m.Skipped != 2 || m.Stale != 1 {
		t.Errorf("counters = %d/%d/%d", m.Samples, m.Skipped, m.Stale)
	}
	if m.LastErr == nil || m.LastErr.Error() != "boom" {
		t.Errorf("LastErr = %v", m.LastErr)
	}
}

func TestModelPassHistory(t *testing.T) {
	m, _ := update(t, NewModel("stdin"), SnapshotMsg{Snapshot: snapshot()})

	m, _ = update(t, m, PassMsg{Pass: attenuation.Pass{Skipped: true}})
	if m.Passes != 0 {
		t.Errorf("skipped pass counted")
	}

	for i := 0; i < maxEvents+3; i++ {
		m, _ = update(t, m, PassMsg{Pass: attenuation.Pass{
			Time:    t0.Add(time.Duration(i) * time.Second),
			Changes: []attenuation.Change{{Band: "50Hz", From: float64(-i), To: float64(-i - 1), Reason: attenuation.Increase}},
		}})
	}
	if len(m.Events) != maxEvents {
		t.Fatalf("history holds %d events, want %d", len(m.Events), maxEvents)
	}
	if got := m.Events[len(m.Events)-1].Change.To; got != -float64(maxEvents+3) {
		t.Errorf("newest event To = %v", got)
	}

	m, _ = update(t, m, PassMsg{Pass: attenuation.Pass{Time: t0}, Err: attenuation.ErrDeviceRead})
	if !errors.Is(m.LastErr, attenuation.ErrDeviceRead) {
		t.Errorf("LastErr = %v", m.LastErr)
	}
	view := m.View()
	if !strings.Contains(view, "Attenuation") || !strings.Contains(view, "(increase)") {
		t.Errorf("view missing history:\n%s", view)
	}
}

func TestModelDoneQuits(t *testing.T) {
	m, cmd := update(t, NewModel("kafka"), DoneMsg{Err: errors.New("ordering")})
	if !m.Done {
		t.Fatal("Done not set")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("DoneMsg should quit")
	}
	if !strings.Contains(m.View(), "Monitor stopped: ordering") {
		t.Errorf("summary:\n%s", m.View())
	}
}

func TestModelQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := update(t, NewModel("stdin"), key)
		if cmd == nil {
			t.Fatalf("%q did not quit", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%q did not quit", key.String())
		}
	}
}

func TestObserverDropsWhenFull(t *testing.T) {
	m := NewModel("stdin")
	o := NewObserver(m)
	for i := 0; i < cap(m.Updates)+10; i++ {
		o.Snapshot(snapshot())
	}
	o.Pass(attenuation.Pass{}, nil)
	if len(m.Updates) != cap(m.Updates) {
		t.Errorf("channel holds %d messages", len(m.Updates))
	}
	if _, ok := (<-m.Updates).(SnapshotMsg); !ok {
		t.Error("first message is not a snapshot")
	}
}
