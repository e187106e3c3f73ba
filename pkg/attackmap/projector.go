package attackmap

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// RenderPoint is the renderable form of one record: [longitude, latitude].
type RenderPoint struct {
	Position [2]float64
}

// Finite reports whether both coordinates are finite numbers. Surfaces use it to
// skip points whose source fields could not be coerced.
func (p RenderPoint) Finite() bool {
	return !math.IsNaN(p.Position[0]) && !math.IsInf(p.Position[0], 0) &&
		!math.IsNaN(p.Position[1]) && !math.IsInf(p.Position[1], 0)
}

// Project maps records to points, one per record, same order. It is a pure
// function of its input and is rerun from scratch after every buffer mutation.
// Invalid coordinates become NaN rather than being filtered.
func Project(records []EventRecord) []RenderPoint {
	points := make([]RenderPoint, len(records))
	for i, r := range records {
		points[i] = RenderPoint{Position: [2]float64{Coerce(r.Longitude), Coerce(r.Latitude)}}
	}
	return points
}

// Coerce parses a JSON number or numeric string. Everything else, including a
// missing field, yields NaN.
func Coerce(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return math.NaN()
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return math.NaN()
		}
		return parseFloat(strings.TrimSpace(s))
	case 'n', 't', 'f', '{', '[':
		return math.NaN()
	}
	return parseFloat(string(raw))
}

func parseFloat(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Out-of-range values still parse to ±Inf.
		if errors.Is(err, strconv.ErrRange) {
			return f
		}
		return math.NaN()
	}
	return f
}
