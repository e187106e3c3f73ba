package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	_ "github.com/silbinarywolf/preferdiscretegpu"
	"github.com/sudorandom/pewpew/pkg/attackmap"
	"github.com/sudorandom/pewpew/pkg/mapview"
	"github.com/sudorandom/pewpew/pkg/sources"
)

var (
	baseURL        = flag.String("url", "http://127.0.0.1:1323/", "Base URL the map is served from")
	windowWidth    = flag.Int("window-width", 1280, "Initial window width")
	windowHeight   = flag.Int("window-height", 720, "Initial window height")
	tpsFlag        = flag.Int("tps", 30, "Ticks per second (engine updates)")
	worldWidth     = flag.Int("world-width", 3072, "Width of the pre-rendered world map")
	followFlag     = flag.Bool("follow", false, "Fly the camera to each new event")
	followZoom     = flag.Float64("follow-zoom", 6, "Zoom level when following events")
	interpFlag     = flag.String("interpolator", "fly-to", "Camera transition: linear or fly-to")
	maxEvents      = flag.Int("max-events", 0, "Keep at most this many events (0 is unbounded)")
	maxAge         = flag.Duration("max-age", 0, "Drop events older than this (0 keeps them until flushed)")
	concurrentFlag = flag.Bool("concurrent-startup", false, "Dial the live stream while the snapshot is still loading")
	cacheDir       = flag.String("cache-dir", "data/cache", "Where the fallback boundary file is cached")
	topN           = flag.Int("top", 8, "Source countries listed in the status panel")
	captureDir     = flag.String("capture-dir", "", "Directory for screenshots taken with the S key")
)

func main() {
	flag.Parse()
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := attackmap.DefaultConfig()
	cfg.BaseURL = *baseURL
	cfg.Retention = attackmap.Retention{MaxCount: *maxEvents, MaxAge: *maxAge}
	cfg.Follow.Enabled = *followFlag
	cfg.Follow.Zoom = *followZoom
	if interp, ok := attackmap.InterpolatorByName(*interpFlag); ok {
		cfg.Follow.Interpolator = interp
	} else {
		log.Printf("Unknown interpolator %q, using %s", *interpFlag, cfg.Follow.Interpolator.Name())
	}
	if *concurrentFlag {
		cfg.Startup = attackmap.StartupConcurrent
	}
	cfg.InitialView.Width, cfg.InitialView.Height = *windowWidth, *windowHeight

	session, err := attackmap.NewSession(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	boundary, err := sources.LoadBoundary([]string{session.Endpoints().Boundary}, "")
	if err != nil {
		log.Printf("Boundary not served by %s, falling back to Natural Earth", cfg.BaseURL)
		boundary, err = sources.LoadBoundary([]string{sources.BoundaryGeoJSONURL}, *cacheDir)
		if err != nil {
			log.Printf("No country boundaries available, drawing an empty world: %v", err)
		}
	}

	opts := mapview.DefaultOptions()
	opts.WorldWidth = *worldWidth
	opts.TopN = *topN
	opts.CaptureDir = *captureDir
	view, err := mapview.New(session, boundary, opts)
	if err != nil {
		log.Fatalf("Failed to initialize map: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := session.Run(ctx); err != nil {
			log.Printf("Session stopped: %v", err)
		}
	}()

	ebiten.SetTPS(*tpsFlag)
	ebiten.SetWindowSize(*windowWidth, *windowHeight)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowTitle("pewpew")
	err = ebiten.RunGame(view)
	cancel()
	<-done
	if err != nil {
		log.Fatal(err)
	}
}
