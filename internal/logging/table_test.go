package logging

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestFormatMetric(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		decimals int
		want     string
	}{
		{"zero", 0.0, 2, "0.00"},
		{"positive", 3.14159, 2, "3.14"},
		{"negative", -16.5, 1, "-16.5"},
		{"large", 12345.6789, 2, "12345.68"},
		{"level", 72.04, 1, "72.0"},
		{"nan", math.NaN(), 2, MissingValue},
		{"positive_inf", math.Inf(1), 2, MissingValue},
		{"negative_inf", math.Inf(-1), 2, MissingValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatMetric(tt.value, tt.decimals)
			if got != tt.want {
				t.Errorf("formatMetric(%v, %d) = %q, want %q", tt.value, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestFormatMetricSigned(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		decimals int
		want     string
	}{
		{"positive", 2.5, 1, "+2.5"},
		{"negative", -1.2, 1, "-1.2"},
		{"zero", 0.0, 1, "+0.0"},
		{"nan", math.NaN(), 1, MissingValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatMetricSigned(tt.value, tt.decimals)
			if got != tt.want {
				t.Errorf("formatMetricSigned(%v, %d) = %q, want %q", tt.value, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestFormatLimit(t *testing.T) {
	if got := formatLimit(65, 999); got != "65.0" {
		t.Errorf("formatLimit(65) = %q", got)
	}
	if got := formatLimit(999, 999); got != UnsetLimit {
		t.Errorf("formatLimit(999) = %q, want %q", got, UnsetLimit)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1500 * time.Millisecond, "1.5s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{2*time.Hour + 1*time.Minute + 9*time.Second, "2h 1m 9s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestMetricTableString(t *testing.T) {
	t.Run("basic_columns", func(t *testing.T) {
		table := NewMetricTable("10s", "5m", "1h")
		table.AddRow("31.5Hz", []string{"71.2", "69.8", "66.0"}, "dB", "")
		table.AddRow("A", []string{"92.0", "90.1", "88.4"}, "dB", "")

		output := table.String()

		for _, want := range []string{"10s", "5m", "1h", "31.5Hz", "66.0", "dB"} {
			if !strings.Contains(output, want) {
				t.Errorf("output missing %q", want)
			}
		}
		if strings.Contains(output, "Interpretation") {
			t.Error("Interpretation header shown without interpretations")
		}
	})

	t.Run("with_interpretation", func(t *testing.T) {
		table := NewMetricTable("5m")
		table.AddRow("63Hz", []string{"70.0"}, "dB", "orange")

		output := table.String()

		if !strings.Contains(output, "Interpretation") {
			t.Error("Output should contain 'Interpretation' header when rows have interpretations")
		}
		if !strings.Contains(output, "orange") {
			t.Error("Output should contain interpretation text")
		}
	})

	t.Run("missing_values", func(t *testing.T) {
		table := NewMetricTable("10s", "5m", "1h")
		table.AddRow("40Hz", []string{"-10.0", ""}, "dB", "")

		output := table.String()

		if !strings.Contains(output, " -  ") {
			t.Error("Missing values should display as dash")
		}
	})

	t.Run("empty_table", func(t *testing.T) {
		table := NewMetricTable("10s")
		if output := table.String(); output != "" {
			t.Errorf("Empty table should return empty string, got %q", output)
		}
	})

	t.Run("add_metric_row_with_nan", func(t *testing.T) {
		table := NewMetricTable("10s", "5m", "1h")
		table.AddMetricRow("50Hz", []float64{70.25, math.NaN(), 61}, 1, "dB", "")

		lines := strings.Split(table.String(), "\n")
		if len(lines) < 2 {
			t.Fatal("Expected at least 2 lines (header + data)")
		}
		dataLine := lines[1]
		if !strings.Contains(dataLine, "70.2") || !strings.Contains(dataLine, "61.0") {
			t.Errorf("values not formatted: %q", dataLine)
		}
		if !strings.Contains(dataLine, " - ") {
			t.Errorf("NaN value should display as dash in: %q", dataLine)
		}
	})
}

func TestMetricTableAlignment(t *testing.T) {
	table := NewMetricTable("Count", "Rate")
	table.AddRow("Short", []string{"1", "2"}, "", "")
	table.AddRow("Much Longer Label", []string{"100", "20000"}, "", "")

	lines := strings.Split(strings.TrimRight(table.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines (header + 2 data), got %d", len(lines))
	}

	// right-aligned values end in the same column
	width := len(lines[0])
	for i := 1; i < len(lines); i++ {
		if len(lines[i]) != width {
			t.Errorf("line %d has width %d, header %d: %q", i, len(lines[i]), width, lines[i])
		}
	}
}
