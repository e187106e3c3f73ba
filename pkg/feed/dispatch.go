package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sudorandom/pewpew/pkg/attackmap"
)

type Broadcaster interface {
	Broadcast(payload []byte)
}

type Store interface {
	Append(line []byte) (bool, error)
	Truncate() error
}

type DispatcherConfig struct {
	Source       Source
	Hub          Broadcaster
	Store        Store
	Enricher     *Enricher
	Filter       *Filter
	PollInterval time.Duration
	Metrics      *Metrics
	Logger       *log.Logger
}

// Dispatcher moves lines from the source to the clients and the daily store.
// Publishing and flushing are serialized, so a flush is never interleaved with
// half of a publish.
type Dispatcher struct {
	cfg DispatcherConfig
	log *log.Logger

	mu sync.Mutex
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{cfg: cfg, log: logger}
}

// FlushCommand is the control frame that tells clients to drop their buffer.
func FlushCommand() []byte {
	b, _ := json.Marshal(struct {
		Command string `json:"command"`
	}{Command: attackmap.CommandFlush})
	return b
}

// Publish sends one input line. Data lines go through the filter and the
// enricher and are stored; control lines are relayed as is, and a relayed flush
// also empties the store. Anything else is dropped.
func (d *Dispatcher) Publish(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	raw := []byte(line)
	msg, err := attackmap.DecodeMessage(raw, time.Now())
	if err != nil {
		d.cfg.Metrics.Invalid.Inc()
		d.log.Printf("[feed] Dropping input line: %v", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if msg.Kind == attackmap.MessageControl {
		if msg.Command == attackmap.CommandFlush {
			d.flushLocked(raw)
			return
		}
		d.cfg.Hub.Broadcast(raw)
		return
	}

	if !d.cfg.Filter.Allow(raw) {
		d.cfg.Metrics.Suppressed.Inc()
		return
	}
	if d.cfg.Enricher != nil {
		if enriched, ok := d.cfg.Enricher.Enrich(raw); ok {
			raw = enriched
			d.cfg.Metrics.Enriched.Inc()
		}
	}
	d.cfg.Hub.Broadcast(raw)
	if d.cfg.Store != nil {
		if _, err := d.cfg.Store.Append(raw); err != nil {
			d.log.Printf("[feed] %v", err)
		}
	}
	d.cfg.Metrics.Published.Inc()
}

// Flush tells every client to clear its buffer and empties the daily store.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log.Printf("[feed] Sending FLUSH command")
	d.flushLocked(FlushCommand())
}

func (d *Dispatcher) flushLocked(cmd []byte) {
	if d.cfg.Store != nil {
		if err := d.cfg.Store.Truncate(); err != nil {
			d.log.Printf("[feed] %v", err)
		}
	}
	d.cfg.Hub.Broadcast(cmd)
	d.cfg.Metrics.Flushes.Inc()
}

// Run polls the source every PollInterval until ctx is cancelled or the source
// is exhausted.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		lines, err := d.cfg.Source.Poll(ctx)
		for _, line := range lines {
			d.Publish(line)
		}
		switch {
		case errors.Is(err, io.EOF):
			d.log.Printf("[feed] Input exhausted")
			return nil
		case errors.Is(err, ErrInputFailed):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			d.log.Printf("[feed] Reading input: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
