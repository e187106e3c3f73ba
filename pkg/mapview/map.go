// Package mapview draws the attack map with ebiten: country boundaries, an arc
// from the origin to every projected point, arrival pulses and a status panel.
// It is a render surface for an attackmap.Session.
package mapview

import (
	"bytes"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	geojson "github.com/paulmach/go.geojson"
	"github.com/sudorandom/pewpew/pkg/attackmap"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	ColorArcSource = color.RGBA{0, 128, 200, 255}
	ColorArcTarget = color.RGBA{200, 0, 80, 255}
	ColorPulse     = color.RGBA{255, 50, 50, 255}
)

type Options struct {
	// WorldWidth is the width of the pre-rendered world image in pixels.
	WorldWidth int
	// Origin is where every arc starts, [longitude, latitude].
	Origin      [2]float64
	ArcSegments int
	MaxArcs     int
	TopN        int
	// CaptureDir enables the screenshot key (S).
	CaptureDir string
}

func DefaultOptions() Options {
	return Options{
		WorldWidth:  3072,
		Origin:      [2]float64{6.1319346, 49.611621},
		ArcSegments: 24,
		MaxArcs:     5000,
		TopN:        8,
	}
}

// Map is an ebiten.Game. The session pushes frames into it through Render and
// connection updates through ConnectionChanged; the game loop reads them.
type Map struct {
	session *attackmap.Session
	camera  *attackmap.Camera
	opts    Options
	world   World

	bgPixels   []byte
	bgImage    *ebiten.Image
	pulseImage *ebiten.Image
	fontSource *text.GoTextFaceSource
	monoSource *text.GoTextFaceSource

	mu      sync.Mutex
	frame   attackmap.Frame
	pulses  []Pulse
	top     []CountryCount
	invalid int
	conn    attackmap.StateChange

	width, height int
	dragging      bool
	lastX, lastY  int
	capture       bool
}

// New rasterizes the boundaries and attaches the map to the session.
func New(session *attackmap.Session, boundaries *geojson.FeatureCollection, opts Options) (*Map, error) {
	if opts.WorldWidth <= 0 {
		opts.WorldWidth = DefaultOptions().WorldWidth
	}
	if opts.ArcSegments <= 0 {
		opts.ArcSegments = DefaultOptions().ArcSegments
	}
	regular, err := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	if err != nil {
		return nil, fmt.Errorf("loading font: %w", err)
	}
	mono, err := text.NewGoTextFaceSource(bytes.NewReader(gomono.TTF))
	if err != nil {
		return nil, fmt.Errorf("loading font: %w", err)
	}
	world := NewWorld(opts.WorldWidth)
	m := &Map{
		session:    session,
		camera:     session.Camera(),
		opts:       opts,
		world:      world,
		bgPixels:   world.Rasterize(boundaries).Pix,
		fontSource: regular,
		monoSource: mono,
	}
	session.Attach(m)
	return m, nil
}

// Render implements attackmap.RenderSurface. It runs under the session lock.
func (m *Map) Render(f attackmap.Frame) {
	now := time.Now()
	invalid := 0
	for _, p := range f.Points {
		if !p.Finite() {
			invalid++
		}
	}
	top := TopCountries(f.Records, m.opts.TopN)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(f.Points) == 0 {
		m.pulses = m.pulses[:0]
	}
	m.pulses = addPulses(m.pulses, m.world, freshPoints(m.frame, f), now)
	m.frame = f
	m.top = top
	m.invalid = invalid
}

// ConnectionChanged implements attackmap.ConnectionObserver.
func (m *Map) ConnectionChanged(sc attackmap.StateChange) {
	m.mu.Lock()
	m.conn = sc
	m.mu.Unlock()
}

func (m *Map) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyS) {
		m.capture = true
	}
	m.handleInput()
	m.mu.Lock()
	m.pulses = expirePulses(m.pulses, time.Now())
	m.mu.Unlock()
	return nil
}

func (m *Map) handleInput() {
	view := m.camera.View()
	tf := m.world.ViewTransform(view)

	if _, dy := ebiten.Wheel(); dy != 0 {
		view.Zoom += dy * 0.25
		m.camera.Interact(view)
		return
	}

	x, y := ebiten.CursorPosition()
	if !ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		m.dragging = false
		return
	}
	if !m.dragging {
		m.dragging, m.lastX, m.lastY = true, x, y
		return
	}
	if x == m.lastX && y == m.lastY {
		return
	}
	cx, cy := m.world.Point(view.Longitude, view.Latitude)
	cx -= float64(x-m.lastX) / tf.Scale
	cy -= float64(y-m.lastY) / tf.Scale
	view.Longitude, view.Latitude = m.world.Unproject(cx, cy)
	m.camera.Interact(view)
	m.lastX, m.lastY = x, y
}

func (m *Map) Draw(screen *ebiten.Image) {
	m.ensureImages()
	view := m.camera.View()
	tf := m.world.ViewTransform(view)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(tf.Scale, tf.Scale)
	op.GeoM.Translate(tf.OffsetX, tf.OffsetY)
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(m.bgImage, op)

	m.mu.Lock()
	m.drawArcs(screen, tf)
	m.drawPulses(screen, tf)
	m.drawStatus(screen)
	seq := m.frame.Seq
	m.mu.Unlock()

	if m.capture {
		m.capture = false
		m.captureFrame(screen, seq, time.Now())
	}
}

func (m *Map) ensureImages() {
	if m.bgImage == nil {
		m.bgImage = ebiten.NewImage(m.world.Width, m.world.Height)
		m.bgImage.WritePixels(m.bgPixels)
		m.bgPixels = nil
	}
	if m.pulseImage == nil {
		const size = 128
		m.pulseImage = ebiten.NewImage(size, size)
		m.pulseImage.WritePixels(pulsePixels(size))
	}
}

func (m *Map) drawArcs(screen *ebiten.Image, tf Transform) {
	ox, oy := m.world.Point(m.opts.Origin[0], m.opts.Origin[1])
	points := m.frame.Points
	if m.opts.MaxArcs > 0 && len(points) > m.opts.MaxArcs {
		points = points[len(points)-m.opts.MaxArcs:]
	}
	for _, p := range points {
		if !p.Finite() {
			continue
		}
		tx, ty := m.world.Point(p.Position[0], p.Position[1])
		arc := Arc(ox, oy, tx, ty, m.opts.ArcSegments)
		for i := 0; i+1 < len(arc); i++ {
			t := float64(i) / float64(len(arc)-1)
			x0, y0 := tf.Apply(arc[i][0], arc[i][1])
			x1, y1 := tf.Apply(arc[i+1][0], arc[i+1][1])
			vector.StrokeLine(screen, float32(x0), float32(y0), float32(x1), float32(y1), 1, lerpColor(ColorArcSource, ColorArcTarget, t), true)
		}
	}
}

func (m *Map) drawPulses(screen *ebiten.Image, tf Transform) {
	now := time.Now()
	imgW := float64(m.pulseImage.Bounds().Dx())
	halfW := imgW / 2
	op := &ebiten.DrawImageOptions{}
	op.Blend = ebiten.BlendLighter
	r, g, b := float64(ColorPulse.R)/255.0, float64(ColorPulse.G)/255.0, float64(ColorPulse.B)/255.0
	for _, p := range m.pulses {
		progress := p.Progress(now)
		if progress >= 1 || progress < 0 {
			continue
		}
		x, y := tf.Apply(p.X, p.Y)
		scale := (3 + progress*p.MaxRadius) / imgW * 2.0
		alpha := (1.0 - progress) * 0.6
		op.GeoM.Reset()
		op.GeoM.Translate(-halfW, -halfW)
		op.GeoM.Scale(scale, scale)
		op.GeoM.Translate(x, y)
		op.ColorScale.Reset()
		op.ColorScale.Scale(float32(r*alpha), float32(g*alpha), float32(b*alpha), float32(alpha))
		screen.DrawImage(m.pulseImage, op)
	}
}

func (m *Map) drawStatus(screen *ebiten.Image) {
	const margin, fontSize = 24.0, 16.0
	face := &text.GoTextFace{Source: m.fontSource, Size: fontSize}
	mono := &text.GoTextFace{Source: m.monoSource, Size: fontSize}

	lines := []string{
		fmt.Sprintf("stream: %s", connLabel(m.conn)),
		fmt.Sprintf("events: %d", len(m.frame.Points)),
	}
	if m.invalid > 0 {
		lines = append(lines, fmt.Sprintf("unlocated: %d", m.invalid))
	}

	boxH := float64(len(lines)+len(m.top)+1)*(fontSize+6) + 16
	vector.DrawFilledRect(screen, float32(margin-10), float32(margin-10), 260, float32(boxH), color.RGBA{0, 0, 0, 140}, false)
	vector.DrawFilledRect(screen, float32(margin-10), float32(margin-10), 4, float32(boxH), connColor(m.conn.State), false)

	y := margin
	for _, l := range lines {
		op := &text.DrawOptions{}
		op.GeoM.Translate(margin, y)
		op.ColorScale.Scale(1, 1, 1, 0.85)
		text.Draw(screen, l, face, op)
		y += fontSize + 6
	}
	if len(m.top) == 0 {
		return
	}
	y += 4
	title := &text.DrawOptions{}
	title.GeoM.Translate(margin, y)
	title.ColorScale.Scale(1, 1, 1, 0.5)
	text.Draw(screen, "TOP SOURCES", face, title)
	y += fontSize + 6
	for _, c := range m.top {
		op := &text.DrawOptions{}
		op.GeoM.Translate(margin, y)
		text.Draw(screen, fmt.Sprintf("%-18s %6d", c.Name, c.Count), mono, op)
		y += fontSize + 6
	}
}

// Layout reports the window size to the session so the camera tracks it.
func (m *Map) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != m.width || outsideHeight != m.height {
		m.width, m.height = outsideWidth, outsideHeight
		m.session.Resize(outsideWidth, outsideHeight)
	}
	return outsideWidth, outsideHeight
}

func connLabel(sc attackmap.StateChange) string {
	if sc.State == attackmap.StateBackoff {
		return fmt.Sprintf("lost, retry %d in %v", sc.Attempt, sc.Delay)
	}
	return sc.State.String()
}

func connColor(s attackmap.ConnState) color.RGBA {
	switch s {
	case attackmap.StateOpen:
		return color.RGBA{173, 255, 47, 255}
	case attackmap.StateBackoff:
		return color.RGBA{255, 50, 50, 255}
	}
	return color.RGBA{255, 255, 0, 255}
}

func lerpColor(a, b color.RGBA, t float64) color.RGBA {
	l := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*t) }
	return color.RGBA{l(a.R, b.R), l(a.G, b.G), l(a.B, b.B), l(a.A, b.A)}
}
