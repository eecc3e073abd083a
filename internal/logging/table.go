// This file contains the table formatting used by the session report:
// aligned multi-column metric tables (10 s, 5 m, 1 h, limit, gain).

package logging

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MetricRow represents a single row in a table.
// Values are pre-formatted strings so columns can mix precisions.
type MetricRow struct {
	Label          string   // Row label, e.g. "31.5Hz"
	Values         []string // One value per column
	Unit           string   // Unit suffix, e.g. "dB", "" for unitless
	Interpretation string   // Optional interpretation text (only shown if non-empty)
}

// MetricTable formats aligned columns.
// Handles variable column widths, missing values and an optional
// interpretation column.
type MetricTable struct {
	Headers []string
	Rows    []MetricRow
}

// NewMetricTable creates a table with the given column headers.
func NewMetricTable(headers ...string) *MetricTable {
	return &MetricTable{
		Headers: headers,
		Rows:    make([]MetricRow, 0),
	}
}

// layout holds the column widths of a rendered table.
type layout struct {
	label  int
	values []int
	unit   int
	interp bool
}

func (t *MetricTable) layout() layout {
	l := layout{values: make([]int, len(t.Headers))}
	for i, h := range t.Headers {
		l.values[i] = len(h)
	}
	for _, row := range t.Rows {
		l.label = max(l.label, len(row.Label))
		l.unit = max(l.unit, len(row.Unit))
		l.interp = l.interp || row.Interpretation != ""
		for i, v := range row.Values {
			if i < len(l.values) {
				l.values[i] = max(l.values[i], len(v))
			}
		}
	}
	return l
}

// String renders the table. Labels are left-aligned, values right-aligned
// per column, the unit follows the last column and the Interpretation
// column appears only when a row has one.
func (t *MetricTable) String() string {
	if len(t.Rows) == 0 {
		return ""
	}
	l := t.layout()

	var sb strings.Builder
	header := MetricRow{Values: t.Headers}
	if l.interp {
		header.Interpretation = "Interpretation"
	}
	l.write(&sb, header, "")
	for _, row := range t.Rows {
		l.write(&sb, row, MissingValue)
	}
	return sb.String()
}

// write renders one line. Empty cells become missing.
func (l layout) write(sb *strings.Builder, row MetricRow, missing string) {
	fmt.Fprintf(sb, "%-*s  ", l.label, row.Label)
	for i, w := range l.values {
		v := missing
		if i < len(row.Values) && row.Values[i] != "" {
			v = row.Values[i]
		}
		fmt.Fprintf(sb, "%*s  ", w, v)
	}
	if l.unit > 0 {
		fmt.Fprintf(sb, "%-*s ", l.unit, row.Unit)
	}
	if l.interp {
		sb.WriteString(row.Interpretation)
	}
	sb.WriteString("\n")
}

// AddRow adds a row with pre-formatted values.
func (t *MetricTable) AddRow(label string, values []string, unit string, interpretation string) {
	t.Rows = append(t.Rows, MetricRow{
		Label:          label,
		Values:         values,
		Unit:           unit,
		Interpretation: interpretation,
	})
}

// AddMetricRow adds a row of numeric values formatted with the same
// precision. Pass math.NaN() for missing values, they display as "-".
func (t *MetricTable) AddMetricRow(label string, values []float64, decimals int, unit string, interpretation string) {
	formatted := make([]string, len(values))
	for i, v := range values {
		formatted[i] = formatMetric(v, decimals)
	}
	t.AddRow(label, formatted, unit, interpretation)
}

// =============================================================================
// Metric Formatting Helpers
// =============================================================================

// MissingValue is the placeholder for unavailable measurements
const MissingValue = "-"

// UnsetLimit is shown for bands without a configured limit.
const UnsetLimit = "none"

// formatMetric formats a numeric value with the given precision.
// NaN and Inf are shown as MissingValue.
func formatMetric(value float64, decimals int) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return MissingValue
	}
	return fmt.Sprintf("%.*f", decimals, value)
}

// formatLimit formats a band limit, showing UnsetLimit for the
// placeholder threshold of unconfigured bands.
func formatLimit(value, unset float64) string {
	if value >= unset {
		return UnsetLimit
	}
	return formatMetric(value, 1)
}

// formatMetricSigned formats a value with explicit sign for positive values.
// Used for gains like "+0.0 dB" or "-3.5 dB".
func formatMetricSigned(value float64, decimals int) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return MissingValue
	}
	return fmt.Sprintf("%+.*f", decimals, value)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60

	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
