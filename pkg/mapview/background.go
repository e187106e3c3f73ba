package mapview

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"

	geojson "github.com/paulmach/go.geojson"
)

var (
	ColorOcean   = color.RGBA{8, 10, 15, 255}
	ColorLand    = color.RGBA{26, 29, 35, 255}
	ColorOutline = color.RGBA{60, 60, 60, 255}
)

// Rasterize draws filled, outlined country polygons onto a world-sized image.
// A nil collection gives plain ocean.
func (w World) Rasterize(fc *geojson.FeatureCollection) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w.Width, w.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{ColorOcean}, image.Point{}, draw.Src)
	if fc == nil {
		return img
	}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		switch {
		case f.Geometry.IsPolygon():
			w.fillPolygon(img, f.Geometry.Polygon, ColorLand)
			for _, ring := range f.Geometry.Polygon {
				w.drawRing(img, ring, ColorOutline)
			}
		case f.Geometry.IsMultiPolygon():
			for _, poly := range f.Geometry.MultiPolygon {
				w.fillPolygon(img, poly, ColorLand)
				for _, ring := range poly {
					w.drawRing(img, ring, ColorOutline)
				}
			}
		}
	}
	return img
}

// fillPolygon is an even-odd scanline fill; holes come out as ocean.
func (w World) fillPolygon(img *image.RGBA, rings [][][]float64, c color.RGBA) {
	if len(rings) == 0 {
		return
	}
	type point struct{ x, y float64 }
	projected := make([][]point, len(rings))
	minY, maxY := float64(w.Height), 0.0
	for i, ring := range rings {
		projected[i] = make([]point, 0, len(ring))
		for _, p := range ring {
			if len(p) < 2 {
				continue
			}
			x, y := w.Point(p[0], p[1])
			projected[i] = append(projected[i], point{x, y})
			minY = math.Min(minY, y)
			maxY = math.Max(maxY, y)
		}
	}
	for y := int(minY); y <= int(maxY); y++ {
		if y < 0 || y >= w.Height {
			continue
		}
		var nodes []int
		fy := float64(y)
		for _, ring := range projected {
			for i := 0; i < len(ring); i++ {
				j := (i + 1) % len(ring)
				if (ring[i].y < fy && ring[j].y >= fy) || (ring[j].y < fy && ring[i].y >= fy) {
					nodeX := ring[i].x + (fy-ring[i].y)/(ring[j].y-ring[i].y)*(ring[j].x-ring[i].x)
					nodes = append(nodes, int(nodeX))
				}
			}
		}
		sort.Ints(nodes)
		for i := 0; i+1 < len(nodes); i += 2 {
			xs, xe := max(nodes[i], 0), min(nodes[i+1], w.Width-1)
			for x := xs; x < xe; x++ {
				off := y*img.Stride + x*4
				img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, 255
			}
		}
	}
}

func (w World) drawRing(img *image.RGBA, coords [][]float64, c color.RGBA) {
	for i := 0; i+1 < len(coords); i++ {
		if len(coords[i]) < 2 || len(coords[i+1]) < 2 {
			continue
		}
		x1, y1 := w.Point(coords[i][0], coords[i][1])
		x2, y2 := w.Point(coords[i+1][0], coords[i+1][1])
		w.drawLine(img, int(x1), int(y1), int(x2), int(y2), c)
	}
}

// drawLine is Bresenham, clipped to the image.
func (w World) drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx, dy := abs(x2-x1), abs(y2-y1)
	sx, sy := -1, -1
	if x1 < x2 {
		sx = 1
	}
	if y1 < y2 {
		sy = 1
	}
	err := dx - dy
	for {
		if x1 >= 0 && x1 < w.Width && y1 >= 0 && y1 < w.Height {
			off := y1*img.Stride + x1*4
			img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, 255
		}
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
