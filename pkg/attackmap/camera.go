package attackmap

import (
	"math"
	"sync"
	"time"
)

// ViewState is the camera: map center, zoom, optional tilt, and the viewport size.
type ViewState struct {
	Longitude float64
	Latitude  float64
	Zoom      float64
	MaxZoom   float64
	Width     int
	Height    int
	Pitch     float64
	Bearing   float64

	TransitionDuration     time.Duration
	TransitionInterpolator string
}

// DefaultViewState centers on Luxembourg at zoom 4.
func DefaultViewState() ViewState {
	return ViewState{
		Longitude: 6.1319346,
		Latitude:  49.611621,
		Zoom:      4,
		MaxZoom:   12,
		Width:     1280,
		Height:    720,
	}
}

// Interpolator blends two views; t runs from 0 to 1.
type Interpolator interface {
	Name() string
	Interpolate(from, to ViewState, t float64) ViewState
}

type LinearInterpolator struct{}

func (LinearInterpolator) Name() string { return "linear" }

func (LinearInterpolator) Interpolate(from, to ViewState, t float64) ViewState {
	return lerpView(from, to, t)
}

// FlyToInterpolator eases in and out and pulls the zoom back mid-flight so long
// hops read as a flight rather than a slide.
type FlyToInterpolator struct {
	// ZoomOut is how many zoom levels to back out at the midpoint.
	ZoomOut float64
}

func (FlyToInterpolator) Name() string { return "fly-to" }

func (f FlyToInterpolator) Interpolate(from, to ViewState, t float64) ViewState {
	eased := t * t * (3 - 2*t)
	v := lerpView(from, to, eased)
	v.Zoom -= f.ZoomOut * math.Sin(math.Pi*t)
	if v.Zoom < 0 {
		v.Zoom = 0
	}
	return v
}

func lerpView(from, to ViewState, t float64) ViewState {
	lerp := func(a, b float64) float64 { return a + (b-a)*t }
	v := to
	v.Longitude = lerp(from.Longitude, to.Longitude)
	v.Latitude = lerp(from.Latitude, to.Latitude)
	v.Zoom = lerp(from.Zoom, to.Zoom)
	v.Pitch = lerp(from.Pitch, to.Pitch)
	v.Bearing = lerp(from.Bearing, to.Bearing)
	return v
}

// InterpolatorByName resolves the names accepted in configuration.
func InterpolatorByName(name string) (Interpolator, bool) {
	switch name {
	case "linear":
		return LinearInterpolator{}, true
	case "fly-to", "":
		return FlyToInterpolator{ZoomOut: 1}, true
	}
	return nil, false
}

// FollowPolicy moves the camera to the newest point after each projection.
type FollowPolicy struct {
	Enabled      bool
	Zoom         float64
	Duration     time.Duration
	Interpolator Interpolator
}

type transition struct {
	from, to     ViewState
	start        time.Time
	duration     time.Duration
	interpolator Interpolator
}

// Camera owns the ViewState. A new transition interrupts any in-flight one and
// starts from wherever the camera currently is.
type Camera struct {
	mu     sync.Mutex
	view   ViewState
	active *transition
	follow FollowPolicy
	now    func() time.Time
}

func NewCamera(initial ViewState, follow FollowPolicy) *Camera {
	if follow.Interpolator == nil {
		follow.Interpolator = FlyToInterpolator{ZoomOut: 1}
	}
	return &Camera{view: initial, follow: follow, now: time.Now}
}

// Resize updates the viewport size only.
func (c *Camera) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Width, c.view.Height = width, height
	if c.active != nil {
		c.active.from.Width, c.active.from.Height = width, height
		c.active.to.Width, c.active.to.Height = width, height
	}
}

// Interact applies a user pan/zoom/tilt forwarded by the render surface. It
// cancels any transition; the viewport size is left alone.
func (c *Camera) Interact(v ViewState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
	c.view.Longitude = v.Longitude
	c.view.Latitude = v.Latitude
	c.view.Zoom = c.clampZoom(v.Zoom)
	c.view.Pitch = v.Pitch
	c.view.Bearing = v.Bearing
	c.view.TransitionDuration = 0
	c.view.TransitionInterpolator = ""
}

// FlyTo schedules an animated transition to the given center and zoom. A nil
// interp uses the follow policy's interpolator.
func (c *Camera) FlyTo(lon, lat, zoom float64, duration time.Duration, interp Interpolator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if interp == nil {
		interp = c.follow.Interpolator
	}
	now := c.now()
	from := c.currentLocked(now)
	to := from
	to.Longitude, to.Latitude, to.Zoom = lon, lat, c.clampZoom(zoom)
	to.TransitionDuration = duration
	to.TransitionInterpolator = interp.Name()
	if duration <= 0 {
		c.active = nil
		c.view = to
		return
	}
	c.view = to
	c.active = &transition{from: from, to: to, start: now, duration: duration, interpolator: interp}
}

// Follow applies the auto-follow policy to a fresh projection.
func (c *Camera) Follow(points []RenderPoint) bool {
	if !c.follow.Enabled || len(points) == 0 {
		return false
	}
	last := points[len(points)-1]
	if !last.Finite() {
		return false
	}
	c.FlyTo(last.Position[0], last.Position[1], c.follow.Zoom, c.follow.Duration, c.follow.Interpolator)
	return true
}

// View returns the camera as of now, mid-transition if one is running.
func (c *Camera) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked(c.now())
}

// Target returns where the camera is headed, ignoring any transition progress.
func (c *Camera) Target() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Camera) Transitioning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentLocked(c.now())
	return c.active != nil
}

func (c *Camera) currentLocked(now time.Time) ViewState {
	if c.active == nil {
		return c.view
	}
	t := float64(now.Sub(c.active.start)) / float64(c.active.duration)
	if t >= 1 {
		c.active = nil
		return c.view
	}
	if t < 0 {
		t = 0
	}
	return c.active.interpolator.Interpolate(c.active.from, c.active.to, t)
}

func (c *Camera) clampZoom(z float64) float64 {
	if c.view.MaxZoom > 0 && z > c.view.MaxZoom {
		return c.view.MaxZoom
	}
	if z < 0 {
		return 0
	}
	return z
}
