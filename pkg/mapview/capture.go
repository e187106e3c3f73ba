package mapview

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
)

func captureName(t time.Time, seq uint64) string {
	return fmt.Sprintf("pewpew-%s-%d.png", t.Format("20060102-150405"), seq)
}

// captureFrame copies the screen and writes it as a PNG in the background.
func (m *Map) captureFrame(img *ebiten.Image, seq uint64, now time.Time) {
	if m.opts.CaptureDir == "" {
		return
	}
	rgba := image.NewRGBA(img.Bounds())
	img.ReadPixels(rgba.Pix)
	path := filepath.Join(m.opts.CaptureDir, captureName(now, seq))
	go func() {
		if err := writePNG(path, rgba); err != nil {
			log.Printf("Error capturing frame: %v", err)
			return
		}
		log.Printf("Captured frame: %s", path)
	}()
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
