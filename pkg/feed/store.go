package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sudorandom/pewpew/pkg/attackmap"
)

// DailyStore is the append-only daily.json that late clients replay. Only data
// messages are kept; control messages never reach the file.
type DailyStore struct {
	path string

	mu   sync.Mutex
	file *os.File
	size int64
}

func OpenDailyStore(path string) (*DailyStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening daily store: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat daily store: %w", err)
	}
	return &DailyStore{path: path, file: f, size: info.Size()}, nil
}

func (s *DailyStore) Path() string { return s.path }

// Append writes one line if it is a data message and reports whether it did.
func (s *DailyStore) Append(line []byte) (bool, error) {
	msg, err := attackmap.DecodeMessage(line, time.Time{})
	if err != nil || msg.Kind != attackmap.MessageData {
		return false, nil
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.file.Write(buf)
	s.size += int64(n)
	if err != nil {
		return false, fmt.Errorf("appending to %s: %w", s.path, err)
	}
	return true, nil
}

// Truncate empties the file. Writes after it start at offset 0 because the file
// is opened with O_APPEND.
func (s *DailyStore) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("truncating %s: %w", s.path, err)
	}
	s.size = 0
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", s.path, err)
	}
	return nil
}

func (s *DailyStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *DailyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}
