package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/monitor"
	"github.com/linuxmatters/nmeq/internal/window"
)

// lightColors maps classifications to lamp colors.
var lightColors = map[window.Color]lipgloss.Color{
	window.Green:  lipgloss.Color("#00AA00"),
	window.Yellow: lipgloss.Color("#FFD700"),
	window.Orange: lipgloss.Color("#FFA500"),
	window.Red:    lipgloss.Color("#A40000"),
	window.Black:  lipgloss.Color("#444444"),
}

var (
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A40000"))
	humStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AAAA"))
)

// bandColumns are the table headers after the band label and lamp.
var bandColumns = []string{"Level", "10s", "5m", "1h", "Limit", "Gain"}

const (
	labelWidth  = 8
	columnWidth = 7
)

// renderMonitorView renders the live traffic light view
func renderMonitorView(m Model) string {
	var b strings.Builder

	b.WriteString(renderHeader(m))
	b.WriteString("\n\n")
	b.WriteString(renderBands(m.Snapshot))
	b.WriteString("\n")
	if len(m.Events) > 0 {
		b.WriteString(renderEvents(m.Events))
		b.WriteString("\n")
	}
	b.WriteString(renderFooter(m))

	return b.String()
}

// renderHeader renders the application header
func renderHeader(m Model) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#2E8B57")).
		Render("NMEQ 🚦 - Noise Monitor")

	info := fmt.Sprintf("Source: %s", m.Source)
	if m.HasData {
		st := m.Snapshot.State
		info += fmt.Sprintf(" | %s %s window | %s | %s",
			st.Kind, st.Length, st.Status, m.Snapshot.Algorithm)
	}
	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Italic(true).
		Render(info)

	return title + "\n" + subtitle
}

// renderBands renders one row per displayed band
func renderBands(s monitor.Snapshot) string {
	var b strings.Builder

	b.WriteString(mutedStyle.Render(fmt.Sprintf("%-*s   ", labelWidth, "Band")))
	for _, h := range bandColumns {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%*s", columnWidth, h)))
	}
	b.WriteString("\n")

	for _, v := range s.Bands {
		b.WriteString(renderBand(v))
		b.WriteString("\n")
	}
	if !s.Time.IsZero() {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("Newest sample %s, %d buffered",
			s.Time.UTC().Format("2006-01-02 15:04:05"), s.Buffered)))
		b.WriteString("\n")
	}
	return b.String()
}

func renderBand(v monitor.BandView) string {
	lamp := lipgloss.NewStyle().Foreground(lightColors[v.Color]).Render("●")

	gain := "-"
	if v.Controlled {
		gain = fmt.Sprintf("%+.1f", v.Gain)
	}
	cells := []string{
		level(v.Level), level(v.Avg10s), level(v.Avg5m), level(v.Avg1h),
		level(v.Limit1h), gain,
	}
	if !v.Controlled {
		cells[4] = "-"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-*s %s ", labelWidth, v.Band, lamp))
	for _, c := range cells {
		b.WriteString(fmt.Sprintf("%*s", columnWidth, c))
	}
	b.WriteString("  " + v.Color.String())
	if v.Hum {
		b.WriteString(humStyle.Render(" ~ mains hum"))
	}
	return b.String()
}

// renderEvents renders the recent attenuation history
func renderEvents(events []Event) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#888888")).
		Padding(0, 1).
		Width(64)

	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, renderEvent(e))
	}
	return box.Render("Attenuation\n" + strings.Join(lines, "\n"))
}

func renderEvent(e Event) string {
	ts := e.Time.UTC().Format("15:04:05")
	if e.Err != nil {
		return fmt.Sprintf("%s %s", ts, errorStyle.Render(e.Err.Error()))
	}
	c := e.Change
	arrow := "▼"
	if c.Reason == attenuation.Relax {
		arrow = "▲"
	}
	line := fmt.Sprintf("%s %s %-7s %+.1f → %+.1f dB (%s)", ts, arrow, c.Band, c.From, c.To, c.Reason)
	if c.Err != nil {
		line += " " + errorStyle.Render("failed")
	}
	return line
}

// renderFooter renders counters and key help
func renderFooter(m Model) string {
	elapsed := time.Since(m.StartTime).Round(time.Second)
	s := fmt.Sprintf("⏱  %s | %d samples | %d malformed | %d resent | %d passes",
		elapsed, m.Samples, m.Skipped, m.Stale, m.Passes)
	if m.LastErr != nil {
		s += "\n" + errorStyle.Render("Last error: ") + m.LastErr.Error()
	}
	return s + "\n" + mutedStyle.Render("q to quit")
}

// renderSummary renders the final state once the feed has ended
func renderSummary(m Model) string {
	var b strings.Builder

	if m.Err != nil {
		b.WriteString(errorStyle.Render("✗ Monitor stopped: " + m.Err.Error()))
	} else {
		b.WriteString(lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00AA00")).
			Render("✓ Feed complete"))
	}
	b.WriteString("\n\n")

	if m.HasData {
		b.WriteString(renderBands(m.Snapshot))
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("%d samples, %d malformed lines, %d controller passes\n",
		m.Samples, m.Skipped, m.Passes))
	return b.String()
}

// level formats a dB value, NaN as a dash.
func level(db float64) string {
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return "-"
	}
	return fmt.Sprintf("%.1f", db)
}
