package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/sudorandom/pewpew/pkg/attackmap"
)

type CLI struct {
	URL        string        `arg:"" optional:"" help:"Base URL the map is served from." default:"http://127.0.0.1:1323/" env:"PEWPEW_URL"`
	JSON       bool          `help:"Print every projection as a JSON array of [lon, lat] pairs."`
	MaxEvents  int           `help:"Keep at most this many events (0 is unbounded)." default:"0"`
	MaxAge     time.Duration `help:"Drop events older than this (0 keeps them until flushed)." default:"0s"`
	Concurrent bool          `help:"Dial the live stream while the snapshot is still loading."`
	Timeout    time.Duration `help:"Timeout for the snapshot request." default:"30s"`
}

// printer writes a line per projection. It runs under the session lock, so it
// only touches its own writer.
type printer struct {
	out  io.Writer
	json bool
}

func (p printer) Render(f attackmap.Frame) {
	if p.json {
		pairs := make([][2]*float64, len(f.Points))
		for i, pt := range f.Points {
			pairs[i] = [2]*float64{finite(pt.Position[0]), finite(pt.Position[1])}
		}
		data, err := json.Marshal(pairs)
		if err != nil {
			log.Printf("[tail] Encoding frame %d: %v", f.Seq, err)
			return
		}
		fmt.Fprintf(p.out, "%s\n", data)
		return
	}
	if len(f.Points) == 0 {
		fmt.Fprintf(p.out, "#%d empty\n", f.Seq)
		return
	}
	last := f.Points[len(f.Points)-1]
	fmt.Fprintf(p.out, "#%d points=%d last=%.4f,%.4f\n", f.Seq, len(f.Points), last.Position[0], last.Position[1])
}

func (p printer) ConnectionChanged(sc attackmap.StateChange) {
	if sc.Err != nil {
		log.Printf("[tail] %s (attempt %d, retry in %v): %v", sc.State, sc.Attempt, sc.Delay, sc.Err)
		return
	}
	log.Printf("[tail] %s", sc.State)
}

// finite maps NaN and infinities to JSON null.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("pewpew-tail"),
		kong.Description("Follows a pewpew feed and prints every projection."),
	)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := attackmap.DefaultConfig()
	cfg.BaseURL = cli.URL
	cfg.HistoryTimeout = cli.Timeout
	cfg.Retention = attackmap.Retention{MaxCount: cli.MaxEvents, MaxAge: cli.MaxAge}
	if cli.Concurrent {
		cfg.Startup = attackmap.StartupConcurrent
	}

	session, err := attackmap.NewSession(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	session.Attach(printer{out: os.Stdout, json: cli.JSON})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := session.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
