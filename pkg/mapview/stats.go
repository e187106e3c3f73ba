package mapview

import (
	"sort"
	"strings"

	"github.com/biter777/countries"
	"github.com/sudorandom/pewpew/pkg/attackmap"
)

// CountryField is the record field the status panel groups sources by.
const CountryField = "geoip_country_code"

type CountryCount struct {
	Code  string
	Name  string
	Count int
}

// TopCountries counts records per source country, most active first, ties by
// code. Records without a country are not counted.
func TopCountries(records []attackmap.EventRecord, n int) []CountryCount {
	counts := make(map[string]int)
	for _, r := range records {
		if cc := strings.ToUpper(strings.TrimSpace(r.StringField(CountryField))); cc != "" {
			counts[cc]++
		}
	}
	out := make([]CountryCount, 0, len(counts))
	for cc, c := range counts {
		out = append(out, CountryCount{Code: cc, Name: CountryName(cc), Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// CountryName returns a short display name for an ISO code, or the code itself
// when it is unknown.
func CountryName(cc string) string {
	name := countries.ByName(cc).String()
	if name == "Unknown" {
		return cc
	}
	if idx := strings.Index(name, " ("); idx != -1 {
		name = name[:idx]
	}
	const maxLen = 18
	if len(name) > maxLen {
		name = name[:maxLen-3] + "..."
	}
	return name
}
