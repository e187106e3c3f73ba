package mapview

import (
	"math"
	"time"

	"github.com/sudorandom/pewpew/pkg/attackmap"
)

const (
	pulseLifetime = 1500 * time.Millisecond
	maxPulses     = 1500
)

// Pulse is an expanding ring marking a record's arrival, in world pixels.
type Pulse struct {
	X, Y      float64
	StartTime time.Time
	MaxRadius float64
}

// Progress runs from 0 at StartTime to 1 when the pulse has faded out.
func (p Pulse) Progress(now time.Time) float64 {
	return float64(now.Sub(p.StartTime)) / float64(pulseLifetime)
}

// freshPoints returns the points that arrived between two frames. Frames are
// full projections, so arrivals are the tail that grew. When the count
// retention kept the length unchanged the newest point is the only arrival.
func freshPoints(prev, next attackmap.Frame) []attackmap.RenderPoint {
	if next.Seq == prev.Seq {
		return nil
	}
	switch {
	case len(next.Points) > len(prev.Points):
		return next.Points[len(prev.Points):]
	case len(next.Points) == len(prev.Points) && len(next.Points) > 0:
		return next.Points[len(next.Points)-1:]
	}
	return nil
}

// addPulses appends one pulse per finite point, up to maxPulses live pulses.
func addPulses(pulses []Pulse, world World, points []attackmap.RenderPoint, now time.Time) []Pulse {
	for _, p := range points {
		if len(pulses) >= maxPulses {
			break
		}
		if !p.Finite() {
			continue
		}
		x, y := world.Point(p.Position[0], p.Position[1])
		pulses = append(pulses, Pulse{X: x, Y: y, StartTime: now, MaxRadius: 24})
	}
	return pulses
}

// expirePulses drops faded pulses in place.
func expirePulses(pulses []Pulse, now time.Time) []Pulse {
	active := pulses[:0]
	for _, p := range pulses {
		if p.Progress(now) < 1 {
			active = append(active, p)
		}
	}
	return active
}

// pulsePixels renders a soft white ring into an RGBA buffer of size*size.
func pulsePixels(size int) []byte {
	pixels := make([]byte, size*size*4)
	center, maxDist := float64(size)/2.0, float64(size)/2.0
	const outer, inner = 0.9, 0.8
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			dist := math.Sqrt(dx*dx + dy*dy)
			if dist >= maxDist {
				continue
			}
			val := 0.0
			if dist > maxDist*outer {
				val = math.Cos(((dist - maxDist*(outer+((1-outer)/2))) / (maxDist * ((1 - outer) / 2))) * (math.Pi / 2))
			} else if dist > maxDist*inner {
				val = math.Sin(((dist - maxDist*inner) / (maxDist * (outer - inner))) * (math.Pi / 2))
			}
			off := (y*size + x) * 4
			pixels[off], pixels[off+1], pixels[off+2] = 255, 255, 255
			pixels[off+3] = uint8(math.Max(0, math.Min(1, val)) * 255)
		}
	}
	return pixels
}
