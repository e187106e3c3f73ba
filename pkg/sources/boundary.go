// Package sources fetches the reference data the map needs.
package sources

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	geojson "github.com/paulmach/go.geojson"
	"github.com/sudorandom/pewpew/pkg/utils"
)

// EnsureBoundary downloads url to path unless path already exists.
func EnsureBoundary(path, url string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	log.Printf("[boundary] Downloading %s to %s", url, path)
	if err := utils.DownloadFile(url, path); err != nil {
		return fmt.Errorf("downloading boundary: %w", err)
	}
	return nil
}

// LoadBoundary returns the first of urls that can be fetched and parsed as a
// feature collection. cacheDir enables the on-disk cache.
func LoadBoundary(urls []string, cacheDir string) (*geojson.FeatureCollection, error) {
	var errs []error
	for _, u := range urls {
		fc, err := loadBoundary(u, cacheDir)
		if err != nil {
			log.Printf("[boundary] %s: %v", u, err)
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		return fc, nil
	}
	if len(errs) == 0 {
		return nil, errors.New("no boundary sources")
	}
	return nil, errors.Join(errs...)
}

func loadBoundary(url, cacheDir string) (*geojson.FeatureCollection, error) {
	rc, err := utils.GetCachedReader(url, cacheDir, "[boundary]")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Printf("Error closing boundary reader: %v", err)
		}
	}()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing boundary: %w", err)
	}
	return fc, nil
}
