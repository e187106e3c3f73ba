package attackmap

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"
)

// Frame is one projection of the buffer: the points plus the records they came
// from. Both slices are read-only.
type Frame struct {
	Seq     uint64
	Points  []RenderPoint
	Records []EventRecord
}

// RenderSurface draws projected frames. Render is called with the session lock
// held and must not call back into the session.
type RenderSurface interface {
	Render(Frame)
}

// ConnectionObserver is implemented by surfaces that display stream health.
type ConnectionObserver interface {
	ConnectionChanged(StateChange)
}

// Session owns one buffer and camera and is the single logical thread of the
// ingestion core: every mutation is serialized and followed by exactly one full
// projection that is fanned out to the attached surfaces and the camera.
type Session struct {
	cfg       Config
	endpoints Endpoints
	buffer    *Buffer
	camera    *Camera
	history   *HistoryLoader
	log       *log.Logger
	now       func() time.Time

	mu       sync.Mutex
	frame    Frame
	surfaces []RenderSurface

	connMu    sync.Mutex
	conn      StateChange
	observers []ConnectionObserver
}

func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	endpoints, err := ResolveEndpoints(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.logger()
	return &Session{
		cfg:       cfg,
		endpoints: endpoints,
		buffer:    NewBuffer(cfg.Retention),
		camera:    NewCamera(cfg.InitialView, cfg.Follow),
		history:   NewHistoryLoader(client, endpoints.History, cfg.HistoryTimeout, logger),
		log:       logger,
		now:       time.Now,
		frame:     Frame{Points: []RenderPoint{}},
	}, nil
}

func (s *Session) Buffer() *Buffer      { return s.buffer }
func (s *Session) Camera() *Camera      { return s.camera }
func (s *Session) Endpoints() Endpoints { return s.endpoints }

// Attach registers a surface and immediately renders the current frame on it.
func (s *Session) Attach(surface RenderSurface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surfaces = append(s.surfaces, surface)
	if obs, ok := surface.(ConnectionObserver); ok {
		s.connMu.Lock()
		s.observers = append(s.observers, obs)
		current := s.conn
		s.connMu.Unlock()
		obs.ConnectionChanged(current)
	}
	surface.Render(s.frame)
}

// Frame returns the latest projection.
func (s *Session) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *Session) ConnectionState() StateChange {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

// Apply handles one live message.
func (s *Session) Apply(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch msg.Kind {
	case MessageControl:
		switch msg.Command {
		case CommandFlush:
			n := s.buffer.Len()
			s.buffer.Clear()
			s.log.Printf("[session] Flush: discarded %d records", n)
			s.projectLocked()
		default:
			s.log.Printf("[session] Ignoring unknown command %q", msg.Command)
		}
	case MessageData:
		s.buffer.Append(msg.Record)
		s.projectLocked()
	}
}

// AppendHistory appends a replayed batch and projects once.
func (s *Session) AppendHistory(records []EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evicted := s.buffer.Append(records...); evicted > 0 {
		s.log.Printf("[session] Retention evicted %d records", evicted)
	}
	s.projectLocked()
}

// LoadHistory fetches the daily snapshot into the buffer. A failed load is
// logged and leaves the buffer untouched; the projection runs either way.
func (s *Session) LoadHistory(ctx context.Context) (int, error) {
	records, err := s.history.Load(ctx)
	if err != nil {
		s.log.Printf("[history] Could not fetch %s: %v", s.endpoints.History, err)
	} else {
		s.log.Printf("[history] Loaded %d records", len(records))
	}
	s.AppendHistory(records)
	return len(records), err
}

// Prune applies the age retention and reprojects if anything was dropped.
func (s *Session) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.buffer.Prune(s.now())
	if n > 0 {
		s.projectLocked()
	}
	return n
}

// Resize forwards a window size change to the camera.
func (s *Session) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera.Resize(width, height)
}

func (s *Session) projectLocked() {
	records := s.buffer.Snapshot()
	s.frame = Frame{
		Seq:     s.frame.Seq + 1,
		Points:  Project(records),
		Records: records,
	}
	for _, surface := range s.surfaces {
		surface.Render(s.frame)
	}
	s.camera.Follow(s.frame.Points)
}

func (s *Session) connectionChanged(sc StateChange) {
	s.connMu.Lock()
	s.conn = sc
	observers := append([]ConnectionObserver(nil), s.observers...)
	s.connMu.Unlock()
	for _, obs := range observers {
		obs.ConnectionChanged(sc)
	}
}

// Run loads the snapshot and streams live messages until ctx is cancelled.
// Cancellation closes the stream connection and stops the prune ticker.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.cfg.Retention.MaxAge > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pruneLoop(ctx)
		}()
	}

	stream := NewStreamClient(s.endpoints.Stream, s.cfg.Dialer, s.cfg.Backoff, s.Apply, s.connectionChanged, s.log)

	switch s.cfg.Startup {
	case StartupConcurrent:
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.LoadHistory(ctx)
		}()
	default:
		_, _ = s.LoadHistory(ctx)
	}

	err := stream.Run(ctx)
	cancel()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Prune(); n > 0 {
				s.log.Printf("[session] Retention pruned %d records", n)
			}
		}
	}
}
