// Package attackmap is the ingestion core of the live attack map: it merges the
// replayed daily snapshot and the live WebSocket feed into one buffer and projects
// that buffer into renderable points after every mutation.
package attackmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	LongitudeField = "geoip_lon"
	LatitudeField  = "geoip_lat"
)

// EventRecord is one geolocated attack observation. The coordinate fields are kept
// in their source representation (number or string); coercion happens when the
// buffer is projected.
type EventRecord struct {
	Longitude json.RawMessage
	Latitude  json.RawMessage
	// Payload is the full source object. The core never interprets it.
	Payload    map[string]json.RawMessage
	ReceivedAt time.Time
}

// NewEventRecord builds a record from the JSON source object of one observation.
func NewEventRecord(raw json.RawMessage, receivedAt time.Time) (EventRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return EventRecord{}, fmt.Errorf("%w: record is not an object", ErrInvalidMessage)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return EventRecord{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return EventRecord{
		Longitude:  payload[LongitudeField],
		Latitude:   payload[LatitudeField],
		Payload:    payload,
		ReceivedAt: receivedAt,
	}, nil
}

// Field returns an opaque payload field.
func (r EventRecord) Field(name string) (json.RawMessage, bool) {
	v, ok := r.Payload[name]
	return v, ok
}

// StringField returns a payload field decoded as a string, or "" when it is absent
// or not a JSON string.
func (r EventRecord) StringField(name string) string {
	raw, ok := r.Payload[name]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}
