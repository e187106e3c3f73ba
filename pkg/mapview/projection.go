package mapview

import (
	"math"

	"github.com/sudorandom/pewpew/pkg/attackmap"
)

// FitZoom is the camera zoom at which the whole world fits the window.
const FitZoom = 2.0

// World is a Mollweide projection onto a WidthxHeight pixel plane. The plane is
// 2:1, so the ellipse touches all four edges.
type World struct {
	Width, Height int
}

func NewWorld(width int) World {
	return World{Width: width, Height: width / 2}
}

func (w World) radius() float64 {
	return float64(w.Width) / (4 * math.Sqrt2)
}

// Point projects a longitude/latitude in degrees to world pixels.
func (w World) Point(lon, lat float64) (x, y float64) {
	latRad, lonRad := lat*math.Pi/180, lon*math.Pi/180
	theta := latRad
	for i := 0; i < 10 && math.Abs(latRad) < math.Pi/2; i++ {
		delta := (2*theta + math.Sin(2*theta) - math.Pi*math.Sin(latRad)) / (2 + 2*math.Cos(2*theta))
		theta -= delta
		if math.Abs(delta) < 1e-7 {
			break
		}
	}
	r := w.radius()
	x = float64(w.Width)/2 + r*(2*math.Sqrt2/math.Pi)*lonRad*math.Cos(theta)
	y = float64(w.Height)/2 - r*math.Sqrt2*math.Sin(theta)
	return x, y
}

// Unproject is the inverse of Point. Positions outside the ellipse are clamped
// to the nearest valid longitude/latitude.
func (w World) Unproject(x, y float64) (lon, lat float64) {
	r := w.radius()
	px := (x - float64(w.Width)/2) / r
	py := (float64(w.Height)/2 - y) / r
	s := py / math.Sqrt2
	s = math.Max(-1, math.Min(1, s))
	theta := math.Asin(s)
	lat = math.Asin(math.Max(-1, math.Min(1, (2*theta+math.Sin(2*theta))/math.Pi))) * 180 / math.Pi
	cos := math.Cos(theta)
	if cos < 1e-9 {
		return 0, lat
	}
	lon = math.Pi * px / (2 * math.Sqrt2 * cos) * 180 / math.Pi
	lon = math.Max(-180, math.Min(180, lon))
	return lon, lat
}

// Transform maps world pixels to screen pixels: screen = world*Scale + Offset.
type Transform struct {
	Scale            float64
	OffsetX, OffsetY float64
}

// ViewTransform places the camera center in the middle of the screen.
func (w World) ViewTransform(v attackmap.ViewState) Transform {
	sw, sh := float64(v.Width), float64(v.Height)
	fit := math.Min(sw/float64(w.Width), sh/float64(w.Height))
	scale := fit * math.Pow(2, v.Zoom-FitZoom)
	cx, cy := w.Point(v.Longitude, v.Latitude)
	return Transform{Scale: scale, OffsetX: sw/2 - cx*scale, OffsetY: sh/2 - cy*scale}
}

func (t Transform) Apply(x, y float64) (float64, float64) {
	return x*t.Scale + t.OffsetX, y*t.Scale + t.OffsetY
}

func (t Transform) Invert(sx, sy float64) (float64, float64) {
	return (sx - t.OffsetX) / t.Scale, (sy - t.OffsetY) / t.Scale
}

// Arc returns a curve from one world point to another, bowed upward in
// proportion to its length, as segments+1 points.
func Arc(x0, y0, x1, y1 float64, segments int) [][2]float64 {
	if segments < 1 {
		segments = 1
	}
	dx, dy := x1-x0, y1-y0
	length := math.Hypot(dx, dy)
	mx, my := (x0+x1)/2, (y0+y1)/2
	// Normal pointing up the screen.
	nx, ny := 0.0, -1.0
	if length > 0 {
		nx, ny = dy/length, -dx/length
		if ny > 0 {
			nx, ny = -nx, -ny
		}
	}
	cx, cy := mx+nx*length*0.25, my+ny*length*0.25

	pts := make([][2]float64, segments+1)
	for i := 0; i <= segments; i++ {
		t := float64(i) / float64(segments)
		u := 1 - t
		pts[i] = [2]float64{
			u*u*x0 + 2*u*t*cx + t*t*x1,
			u*u*y0 + 2*u*t*cy + t*t*y1,
		}
	}
	return pts
}
