package band

import (
	"math"
	"testing"
)

func TestFrequency(t *testing.T) {
	tests := []struct {
		id     ID
		want   float64
		wantOK bool
	}{
		{"31.5Hz", 31.5, true},
		{"Leq31_5Hz", 31.5, true},
		{"31_5Hz", 31.5, true},
		{"100Hz", 100, true},
		{"1kHz", 1000, true},
		{"Leq1_25kHz", 1250, true},
		{"3.15kHz", 3150, true},
		{"6.3Hz", 6.3, true},
		{"A", 0, false},
		{"LeqC", 0, false},
		{"D", 0, false},
		{"Z", 0, false},
		{"Bass", 0, false},
		{"garbage", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			got, ok := Frequency(tt.id)
			if ok != tt.wantOK {
				t.Fatalf("Frequency(%q) ok = %v, want %v", tt.id, ok, tt.wantOK)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Frequency(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestNormalizeAndColumn(t *testing.T) {
	tests := []struct {
		in     string
		want   ID
		column string
	}{
		{"Leq31_5Hz", "31.5Hz", "Leq31_5Hz"},
		{"31.5Hz", "31.5Hz", "Leq31_5Hz"},
		{" LeqA ", "A", "LeqA"},
		{"Leq12_5kHz", "12.5kHz", "Leq12_5kHz"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if got.Column() != tt.column {
				t.Errorf("Column() = %q, want %q", got.Column(), tt.column)
			}
		})
	}
}

func TestIndexCoversAllBands(t *testing.T) {
	ids := All()
	if len(ids) != Count {
		t.Fatalf("All() returned %d bands, want %d", len(ids), Count)
	}
	for want, id := range ids {
		got, ok := Index(id)
		if !ok || got != want {
			t.Errorf("Index(%q) = %d, %v; want %d", id, got, ok, want)
		}
	}
	if i, ok := Index("Leq31_5Hz"); !ok || ids[i] != "31.5Hz" {
		t.Errorf("Index(Leq31_5Hz) did not resolve to 31.5Hz")
	}
	if _, ok := Index("7Hz"); ok {
		t.Error("Index(7Hz) should not resolve")
	}
}

func TestFullSpectrum(t *testing.T) {
	for _, id := range []ID{"A", "B", "C", "D", "Z", "Bass", "LeqA"} {
		if !id.FullSpectrum() {
			t.Errorf("%q should be full spectrum", id)
		}
	}
	for _, id := range BassSources {
		if id.FullSpectrum() {
			t.Errorf("%q should not be full spectrum", id)
		}
	}
}

func TestThirdOctaveAndNearest(t *testing.T) {
	geq := ThirdOctave(20, 20000)
	if len(geq) != 31 {
		t.Errorf("ThirdOctave(20, 20000) returned %d bands, want 31", len(geq))
	}
	if geq[0] != "20Hz" || geq[len(geq)-1] != "20kHz" {
		t.Errorf("ThirdOctave bounds = %q..%q", geq[0], geq[len(geq)-1])
	}

	tests := []struct {
		hz   float64
		want ID
	}{
		{50, "50Hz"},
		{60, "63Hz"},
		{1000, "1kHz"},
		{120, "125Hz"},
	}
	for _, tt := range tests {
		if got := Nearest(tt.hz); got != tt.want {
			t.Errorf("Nearest(%v) = %q, want %q", tt.hz, got, tt.want)
		}
	}
}

func TestEnergyRoundTrip(t *testing.T) {
	for _, db := range []float64{0, 35.5, 70, 94} {
		if got := Decibels(Energy(db)); math.Abs(got-db) > 1e-9 {
			t.Errorf("Decibels(Energy(%v)) = %v", db, got)
		}
	}
}
