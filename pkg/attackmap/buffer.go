package attackmap

import (
	"sync"
	"time"
)

// Retention bounds the buffer between flushes. The zero value keeps everything.
type Retention struct {
	MaxCount int           // keep at most this many of the newest records (0 = unbounded)
	MaxAge   time.Duration // drop records received longer ago than this (0 = forever)
}

// Buffer is the ordered store of event records. Insertion order is arrival order;
// there is no deduplication.
//
// Snapshots are read-only views that share the backing array. The buffer never
// writes to an index a snapshot can see: eviction reslices forward, compaction and
// Clear move to a fresh array.
type Buffer struct {
	mu        sync.RWMutex
	records   []EventRecord
	retention Retention
}

func NewBuffer(retention Retention) *Buffer {
	return &Buffer{retention: retention}
}

// Append adds records to the tail and applies the count retention. It returns how
// many of the oldest records were evicted to make room.
func (b *Buffer) Append(records ...EventRecord) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, records...)
	if b.retention.MaxCount <= 0 || len(b.records) <= b.retention.MaxCount {
		return 0
	}
	drop := len(b.records) - b.retention.MaxCount
	b.dropOldest(drop)
	return drop
}

// Prune drops records older than the age retention as of now.
func (b *Buffer) Prune(now time.Time) int {
	if b.retention.MaxAge <= 0 {
		return 0
	}
	cutoff := now.Add(-b.retention.MaxAge)
	b.mu.Lock()
	defer b.mu.Unlock()
	drop := 0
	for drop < len(b.records) && b.records[drop].ReceivedAt.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		b.dropOldest(drop)
	}
	return drop
}

func (b *Buffer) dropOldest(n int) {
	b.records = b.records[n:]
	// Reclaim the dead prefix once it dominates the backing array.
	if cap(b.records) > 64 && len(b.records) < cap(b.records)/4 {
		compact := make([]EventRecord, len(b.records), len(b.records)*2)
		copy(compact, b.records)
		b.records = compact
	}
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.records = nil
	b.mu.Unlock()
}

// Snapshot returns the current ordered contents. Callers must not modify it.
func (b *Buffer) Snapshot() []EventRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.records)
	return b.records[:n:n]
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

func (b *Buffer) Retention() Retention {
	return b.retention
}
