package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/linuxmatters/nmeq/internal/band"
	"github.com/linuxmatters/nmeq/internal/monitor"
	"github.com/linuxmatters/nmeq/internal/window"
)

// colors lists the traffic light colors in report column order.
var colors = []window.Color{window.Green, window.Yellow, window.Orange, window.Red, window.Black}

// writeSection writes a section header with title and dashed underline.
// The underline length matches the title length.
func writeSection(w io.Writer, title string) {
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("-", len(title)))
}

// ReportData contains everything needed to write a session report.
type ReportData struct {
	Path      string // report file
	Source    string // where the raw lines came from
	StartTime time.Time
	EndTime   time.Time
	Stats     monitor.Stats
	Snapshot  monitor.Snapshot
	Intervals map[band.ID][]window.Interval
}

// GenerateReport writes the session report to data.Path.
//
// Report structure:
// 1. Header - source, window and timestamp
// 2. Session Summary - wall time and data time covered
// 3. Ingestion - sample counters
// 4. Attenuation - controller pass counters
// 5. Band Levels - newest averages, limits and gains
// 6. Time in Color - classification intervals per band
func GenerateReport(data ReportData) error {
	f, err := os.Create(data.Path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	WriteReport(f, data)
	return nil
}

// WriteReport renders the report to w.
func WriteReport(w io.Writer, data ReportData) {
	writeReportHeader(w, data)
	writeSessionSummary(w, data)
	writeIngestion(w, data.Stats)
	writeAttenuation(w, data)
	writeBandLevels(w, data.Snapshot)
	writeTimeInColor(w, data.Snapshot, data.Intervals)
}

func writeReportHeader(w io.Writer, data ReportData) {
	st := data.Snapshot.State
	fmt.Fprintln(w, "NMEQ Session Report")
	fmt.Fprintln(w, "===================")
	fmt.Fprintf(w, "Source: %s\n", data.Source)
	fmt.Fprintf(w, "Window: %s %s (%s to %s)\n",
		st.Kind, formatDuration(st.Length),
		st.Start.UTC().Format("2006-01-02 15:04:05"), st.End.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Generated: %s\n", data.EndTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintln(w, "")
}

func writeSessionSummary(w io.Writer, data ReportData) {
	writeSection(w, "Session Summary")

	wall := data.EndTime.Sub(data.StartTime)
	fmt.Fprintf(w, "Wall time:    %s\n", formatDuration(wall))

	s := data.Stats
	if !s.FirstSample.IsZero() {
		covered := s.LatestSample.Sub(s.FirstSample) + time.Second
		fmt.Fprintf(w, "Data covered: %s (%s to %s)", formatDuration(covered),
			s.FirstSample.UTC().Format("15:04:05"), s.LatestSample.UTC().Format("15:04:05"))
		if wall > 0 {
			fmt.Fprintf(w, " (%.0fx real-time)", float64(covered)/float64(wall))
		}
		fmt.Fprintln(w, "")
	} else {
		fmt.Fprintln(w, "Data covered: none")
	}
	fmt.Fprintf(w, "Status:       %s\n", data.Snapshot.State.Status)
	fmt.Fprintln(w, "")
}

func writeIngestion(w io.Writer, s monitor.Stats) {
	writeSection(w, "Ingestion")
	table := NewMetricTable("Count")
	table.AddRow("Batches", []string{fmt.Sprint(s.Batches)}, "", "")
	table.AddRow("Samples", []string{fmt.Sprint(s.Samples)}, "", "")
	table.AddRow("Malformed lines", []string{fmt.Sprint(s.Skipped)}, "", interpretCount(s.Skipped, "check the feed format"))
	table.AddRow("Resent samples", []string{fmt.Sprint(s.Stale)}, "", "")
	table.AddRow("Outside window", []string{fmt.Sprint(s.Outside)}, "", "")
	table.AddRow("NaN fields", []string{fmt.Sprint(s.NaNFields)}, "", interpretCount(s.NaNFields, "missing band values"))
	fmt.Fprint(w, table.String())
	fmt.Fprintln(w, "")
}

func writeAttenuation(w io.Writer, data ReportData) {
	writeSection(w, "Attenuation")
	s := data.Stats
	fmt.Fprintf(w, "Algorithm: %s\n", data.Snapshot.Algorithm)

	table := NewMetricTable("Count")
	table.AddRow("Passes", []string{fmt.Sprint(s.Passes)}, "", "")
	table.AddRow("Skipped (busy)", []string{fmt.Sprint(s.PassesBusy)}, "", "")
	table.AddRow("Read errors", []string{fmt.Sprint(s.ReadErrors)}, "", interpretCount(s.ReadErrors, "device unreachable"))
	table.AddRow("Gain writes", []string{fmt.Sprint(s.Writes)}, "", "")
	table.AddRow("Write errors", []string{fmt.Sprint(s.WriteErrors)}, "", interpretCount(s.WriteErrors, "device rejected writes"))
	table.AddRow("Lowest gain", []string{formatMetricSigned(s.LowestGain, 1)}, "dB", "")
	fmt.Fprint(w, table.String())
	fmt.Fprintln(w, "")
}

func writeBandLevels(w io.Writer, snap monitor.Snapshot) {
	writeSection(w, "Band Levels")
	if len(snap.Bands) == 0 {
		fmt.Fprintln(w, "No data")
		fmt.Fprintln(w, "")
		return
	}

	table := NewMetricTable("Level", "10s", "5m", "1h", "Limit 5m", "Limit 1h", "Gain")
	for _, v := range snap.Bands {
		gain := MissingValue
		if v.Controlled {
			gain = formatMetricSigned(v.Gain, 1)
		}
		table.AddRow(string(v.Band), []string{
			formatMetric(v.Level, 1),
			formatMetric(v.Avg10s, 1),
			formatMetric(v.Avg5m, 1),
			formatMetric(v.Avg1h, 1),
			formatMetric(v.Limit5m, 1),
			formatLimit(v.Limit1h, window.DefaultThreshold),
			gain,
		}, "dB", interpretBand(v))
	}
	fmt.Fprint(w, table.String())
	fmt.Fprintln(w, "")
}

func writeTimeInColor(w io.Writer, snap monitor.Snapshot, intervals map[band.ID][]window.Interval) {
	writeSection(w, "Time in Color")
	headers := make([]string, len(colors))
	for i, c := range colors {
		headers[i] = c.String()
	}
	table := NewMetricTable(headers...)
	for _, v := range snap.Bands {
		spent := timeInColor(intervals[v.Band])
		values := make([]string, len(colors))
		for i, c := range colors {
			values[i] = formatDuration(spent[c])
		}
		table.AddRow(string(v.Band), values, "", "")
	}
	if len(table.Rows) == 0 {
		fmt.Fprintln(w, "No data")
		return
	}
	fmt.Fprint(w, table.String())
}

// timeInColor sums interval lengths per color.
func timeInColor(list []window.Interval) map[window.Color]time.Duration {
	out := make(map[window.Color]time.Duration, len(colors))
	for _, iv := range list {
		out[iv.Color] += iv.End.Sub(iv.Start)
	}
	return out
}

func interpretBand(v monitor.BandView) string {
	s := v.Color.String()
	if v.Hum {
		s += ", mains hum band"
	}
	return s
}

func interpretCount(n int, problem string) string {
	if n == 0 {
		return ""
	}
	return problem
}
