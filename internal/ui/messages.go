package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/monitor"
)

// SnapshotMsg carries the monitor state after an aggregated batch.
type SnapshotMsg struct {
	Snapshot monitor.Snapshot
}

// BatchMsg reports one ingested block of lines.
type BatchMsg struct {
	Batch monitor.Batch
}

// PassMsg reports one controller pass.
type PassMsg struct {
	Pass attenuation.Pass
	Err  error
}

// DoneMsg indicates the feed has ended or the monitor halted.
type DoneMsg struct {
	Err error
}

// Observer forwards monitor events to the model's update channel. Events are
// dropped when the UI falls behind; the next snapshot supersedes them.
type Observer struct {
	ch chan<- tea.Msg
}

// NewObserver returns an Observer feeding m.
func NewObserver(m Model) *Observer {
	return &Observer{ch: m.Updates}
}

func (o *Observer) send(msg tea.Msg) {
	select {
	case o.ch <- msg:
	default:
	}
}

func (o *Observer) Ingested(b monitor.Batch)           { o.send(BatchMsg{Batch: b}) }
func (o *Observer) Snapshot(s monitor.Snapshot)        { o.send(SnapshotMsg{Snapshot: s}) }
func (o *Observer) Pass(p attenuation.Pass, err error) { o.send(PassMsg{Pass: p, Err: err}) }
