package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/oschwald/maxminddb-golang"
	"github.com/sudorandom/pewpew/pkg/attackmap"
)

const CountryCodeField = "geoip_country_code"

// GeoLookup is satisfied by *maxminddb.Reader.
type GeoLookup interface {
	Lookup(ip net.IP, result any) error
}

type cityRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// Enricher fills in coordinates for records that carry a source address but no
// geoip_lon/geoip_lat, using a MaxMind city database.
type Enricher struct {
	db      GeoLookup
	ipField string
	closer  func() error
}

// OpenEnricher opens a GeoLite2/GeoIP2 City database from disk.
func OpenEnricher(path, ipField string) (*Enricher, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening geoip database %s: %w", path, err)
	}
	e := NewEnricher(reader, ipField)
	e.closer = reader.Close
	return e, nil
}

func NewEnricher(db GeoLookup, ipField string) *Enricher {
	if ipField == "" {
		ipField = "src_ip"
	}
	return &Enricher{db: db, ipField: ipField}
}

func (e *Enricher) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer()
}

// Enrich returns the line with coordinates added, and whether it changed.
// Lines that already have coordinates, are not data messages, or whose address
// is unknown to the database come back untouched.
func (e *Enricher) Enrich(line []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return line, false
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil || len(elems) == 0 {
		return line, false
	}
	var record map[string]json.RawMessage
	if err := json.Unmarshal(elems[0], &record); err != nil || record == nil {
		return line, false
	}
	if _, ok := record[attackmap.LongitudeField]; ok {
		if _, ok := record[attackmap.LatitudeField]; ok {
			return line, false
		}
	}

	var addr string
	if raw, ok := record[e.ipField]; !ok || json.Unmarshal(raw, &addr) != nil {
		return line, false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return line, false
	}
	var city cityRecord
	if err := e.db.Lookup(ip, &city); err != nil {
		return line, false
	}
	if city.Location.Latitude == 0 && city.Location.Longitude == 0 {
		return line, false
	}

	record[attackmap.LongitudeField] = json.RawMessage(strconv.FormatFloat(city.Location.Longitude, 'f', -1, 64))
	record[attackmap.LatitudeField] = json.RawMessage(strconv.FormatFloat(city.Location.Latitude, 'f', -1, 64))
	if city.Country.ISOCode != "" {
		if cc, err := json.Marshal(city.Country.ISOCode); err == nil {
			record[CountryCodeField] = cc
		}
	}
	rewritten, err := json.Marshal(record)
	if err != nil {
		return line, false
	}
	elems[0] = rewritten
	out, err := json.Marshal(elems)
	if err != nil {
		return line, false
	}
	return out, true
}
