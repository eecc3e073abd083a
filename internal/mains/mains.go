// Package mains works out the local electrical mains frequency and the
// third-octave band where its hum lands.
package mains

import (
	"strings"

	tz "github.com/medama-io/go-timezone-country"
	"github.com/thlib/go-timezone-local/tzlocal"

	"github.com/linuxmatters/nmeq/internal/band"
)

// Fallback is used when the timezone gives no answer. 50 Hz is the more
// common grid frequency worldwide.
const Fallback = 50

// Mains describes the local grid.
type Mains struct {
	Timezone  string
	Country   string // empty when unknown
	Frequency int    // 50 or 60 Hz
	Band      band.ID
}

// Detect inspects the runtime timezone.
func Detect() Mains {
	zone, err := tzlocal.RuntimeTZ()
	if err != nil {
		return ForFrequency(Fallback)
	}
	return ForTimezone(zone)
}

// ForTimezone resolves an IANA timezone to its country and grid.
func ForTimezone(zone string) Mains {
	m := ForFrequency(Fallback)
	m.Timezone = zone

	// UTC, GMT and Etc/* carry no country
	if zone == "UTC" || zone == "GMT" || strings.HasPrefix(zone, "Etc/") {
		return m
	}

	countries, err := tz.NewTimezoneCountryMap()
	if err != nil {
		return m
	}
	country, err := countries.GetCountry(zone)
	if err != nil {
		return m
	}

	m.Country = country
	m.Frequency = countryFrequency(country)
	m.Band = band.Nearest(float64(m.Frequency))
	return m
}

// ForFrequency returns the grid for a known frequency.
func ForFrequency(hz int) Mains {
	return Mains{Frequency: hz, Band: band.Nearest(float64(hz))}
}

// countryFrequency returns 60 for the countries listed in hz60Countries.
// Japan is split by region; the 50 Hz east (Tokyo) is assumed.
func countryFrequency(country string) int {
	if hz60Countries[country] {
		return 60
	}
	return 50
}

// hz60Countries lists countries using 60Hz mains power.
// All other countries use 50Hz.
// Source: https://en.wikipedia.org/wiki/Mains_electricity_by_country
var hz60Countries = map[string]bool{
	// North America
	"United States": true,
	"Canada":        true,
	"Mexico":        true,

	// Central America
	"Belize":      true,
	"Costa Rica":  true,
	"El Salvador": true,
	"Guatemala":   true,
	"Honduras":    true,
	"Nicaragua":   true,
	"Panama":      true,

	// Caribbean
	"Bahamas":             true,
	"Barbados":            true,
	"Cayman Islands":      true,
	"Cuba":                true,
	"Dominican Republic":  true,
	"Haiti":               true,
	"Jamaica":             true,
	"Puerto Rico":         true,
	"Trinidad and Tobago": true,
	"U.S. Virgin Islands": true,

	// South America (partial—most use 50Hz)
	"Brazil":    true, // Note: Brazil has both 50Hz and 60Hz regions; 60Hz predominant
	"Colombia":  true,
	"Ecuador":   true,
	"Guyana":    true,
	"Peru":      true,
	"Suriname":  true,
	"Venezuela": true,

	// Asia (partial)
	"South Korea":  true,
	"Taiwan":       true,
	"Philippines":  true,
	"Saudi Arabia": true,

	// Pacific
	"Guam":             true,
	"American Samoa":   true,
	"Marshall Islands": true,
	"Micronesia":       true,
	"Palau":            true,
}
