// Package feed is the server side of the attack map: it pops event lines from
// an input queue, optionally enriches and filters them, broadcasts them to every
// connected WebSocket client and keeps the day's events in daily.json for
// clients that join late.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sudorandom/pewpew/pkg/attackmap"
)

// Source yields raw event lines. Poll returns whatever is available right now,
// possibly nothing; io.EOF means the source is exhausted for good and an error
// wrapping ErrInputFailed means it broke for good. Other errors are transient.
type Source interface {
	Poll(ctx context.Context) ([]string, error)
}

// ListPopper is the part of the Redis client the source needs.
type ListPopper interface {
	LPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd
}

// RedisSource drains a Redis list with LPOP, oldest entry first.
type RedisSource struct {
	client ListPopper
	queue  string
	batch  int
}

func NewRedisSource(client ListPopper, queue string, batch int) *RedisSource {
	if batch <= 0 {
		batch = 512
	}
	return &RedisSource{client: client, queue: queue, batch: batch}
}

func (s *RedisSource) Poll(ctx context.Context) ([]string, error) {
	var lines []string
	for {
		vals, err := s.client.LPopCount(ctx, s.queue, s.batch).Result()
		if errors.Is(err, redis.Nil) {
			return lines, nil
		}
		if err != nil {
			return lines, fmt.Errorf("lpop %s: %w", s.queue, err)
		}
		lines = append(lines, vals...)
		if len(vals) < s.batch {
			return lines, nil
		}
	}
}

// RedisConfig selects the input server. Addr is host:port.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// ErrInputFailed means the source stopped for good on a read error; everything
// after the failure is lost.
var ErrInputFailed = errors.New("input failed")

// ReaderSource reads newline-delimited events from a stream such as stdin. Lines
// over attackmap.MaxLineLength are logged and skipped.
type ReaderSource struct {
	lines     chan string
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func NewReaderSource(r io.Reader) *ReaderSource {
	s := &ReaderSource{
		lines:  make(chan string, 1024),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.read(r)
	return s
}

func (s *ReaderSource) read(r io.Reader) {
	defer close(s.exited)
	defer close(s.lines)

	lr := attackmap.NewLineReader(r, attackmap.MaxLineLength)
	lineNo := 0
	for {
		line, err := lr.Next()
		if errors.Is(err, io.EOF) {
			s.setErr(io.EOF)
			return
		}
		lineNo++
		if errors.Is(err, attackmap.ErrLineTooLong) {
			log.Printf("[feed] Skipping input line %d: longer than %d bytes", lineNo, attackmap.MaxLineLength)
			continue
		}
		if err != nil {
			s.setErr(fmt.Errorf("%w: line %d: %w", ErrInputFailed, lineNo, err))
			return
		}
		select {
		case s.lines <- string(line):
		case <-s.done:
			s.setErr(io.EOF)
			return
		}
	}
}

func (s *ReaderSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Close stops the reader goroutine once it next hands over a line. A read that
// is blocked in the underlying reader returns only when that reader is closed.
func (s *ReaderSource) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Poll returns the buffered lines. Once the input is finished it returns io.EOF,
// or an error wrapping ErrInputFailed when reading failed.
func (s *ReaderSource) Poll(ctx context.Context) ([]string, error) {
	var lines []string
	for {
		select {
		case <-ctx.Done():
			return lines, ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				s.mu.Lock()
				defer s.mu.Unlock()
				return lines, s.err
			}
			lines = append(lines, line)
		default:
			return lines, nil
		}
	}
}
