package attackmap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// HistoryLoader fetches the daily snapshot: newline-delimited JSON arrays whose
// first element is one record.
type HistoryLoader struct {
	client  *http.Client
	url     string
	timeout time.Duration
	log     *log.Logger
	now     func() time.Time
}

func NewHistoryLoader(client *http.Client, url string, timeout time.Duration, logger *log.Logger) *HistoryLoader {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.Default()
	}
	return &HistoryLoader{client: client, url: url, timeout: timeout, log: logger, now: time.Now}
}

// Load performs one bounded retrieval. On any transport failure nothing is
// returned: a partial snapshot is never handed to the buffer.
func (l *HistoryLoader) Load(ctx context.Context) ([]EventRecord, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building snapshot request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", l.url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			l.log.Printf("[history] Error closing response body: %v", err)
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: bad status: %s", l.url, resp.Status)
	}
	records, err := ParseSnapshot(resp.Body, l.now(), l.log)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", l.url, err)
	}
	return records, nil
}

// ParseSnapshot decodes every non-empty line of r. Lines that are not valid data
// messages, or are longer than MaxLineLength, are logged and skipped; only a read
// error fails the whole snapshot.
func ParseSnapshot(r io.Reader, receivedAt time.Time, logger *log.Logger) ([]EventRecord, error) {
	var records []EventRecord
	lines := NewLineReader(r, MaxLineLength)
	lineNo := 0
	for {
		line, err := lines.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		lineNo++
		if errors.Is(err, ErrLineTooLong) {
			logger.Printf("[history] Skipping line %d: longer than %d bytes", lineNo, MaxLineLength)
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := DecodeMessage(line, receivedAt)
		if err != nil {
			logger.Printf("[history] Skipping line %d: %v", lineNo, err)
			continue
		}
		if msg.Kind != MessageData {
			logger.Printf("[history] Skipping line %d: unexpected %s message", lineNo, msg.Kind)
			continue
		}
		records = append(records, msg.Record)
	}
}
