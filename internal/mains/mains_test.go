package mains

import (
	"testing"

	"github.com/linuxmatters/nmeq/internal/band"
)

func TestForTimezone(t *testing.T) {
	tests := []struct {
		zone string
		hz   int
		band band.ID
	}{
		{"Europe/London", 50, "50Hz"},
		{"Europe/Berlin", 50, "50Hz"},
		{"Australia/Sydney", 50, "50Hz"},
		{"Asia/Tokyo", 50, "50Hz"},
		{"America/New_York", 60, "63Hz"},
		{"America/Toronto", 60, "63Hz"},
		{"America/Bogota", 60, "63Hz"},
		{"Asia/Seoul", 60, "63Hz"},
		{"Asia/Manila", 60, "63Hz"},
		{"UTC", 50, "50Hz"},
		{"Etc/GMT+3", 50, "50Hz"},
	}

	for _, tt := range tests {
		t.Run(tt.zone, func(t *testing.T) {
			got := ForTimezone(tt.zone)
			if got.Frequency != tt.hz || got.Band != tt.band {
				t.Errorf("ForTimezone(%q) = %d Hz in %s, want %d Hz in %s", tt.zone, got.Frequency, got.Band, tt.hz, tt.band)
			}
			if got.Timezone != tt.zone {
				t.Errorf("Timezone = %q", got.Timezone)
			}
		})
	}
}

func TestForTimezoneCountry(t *testing.T) {
	if got := ForTimezone("America/Mexico_City"); got.Country != "Mexico" {
		t.Errorf("country = %q, want Mexico", got.Country)
	}
	if got := ForTimezone("UTC"); got.Country != "" {
		t.Errorf("UTC country = %q, want none", got.Country)
	}
}

func TestDetect(t *testing.T) {
	m := Detect()
	if m.Frequency != 50 && m.Frequency != 60 {
		t.Errorf("Detect() = %d Hz, want 50 or 60", m.Frequency)
	}
	if m.Band != "50Hz" && m.Band != "63Hz" {
		t.Errorf("hum band = %q", m.Band)
	}
}
