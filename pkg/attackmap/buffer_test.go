package attackmap

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func rec(lon, lat string) EventRecord {
	raw := fmt.Sprintf(`{"geoip_lon":%q,"geoip_lat":%q}`, lon, lat)
	r, err := NewEventRecord(json.RawMessage(raw), time.Time{})
	if err != nil {
		panic(err)
	}
	return r
}

func recAt(lon string, at time.Time) EventRecord {
	r := rec(lon, "0")
	r.ReceivedAt = at
	return r
}

func TestBufferAppendMonotonic(t *testing.T) {
	b := NewBuffer(Retention{})
	for batch := 1; batch <= 5; batch++ {
		before := b.Len()
		var recs []EventRecord
		for i := 0; i < batch; i++ {
			recs = append(recs, rec(fmt.Sprint(before+i), "0"))
		}
		b.Append(recs...)
		if got, want := b.Len(), before+batch; got != want {
			t.Fatalf("Len() after appending %d = %d; want %d", batch, got, want)
		}
	}
	for i, r := range b.Snapshot() {
		if got := string(r.Longitude); got != fmt.Sprintf("%q", fmt.Sprint(i)) {
			t.Errorf("record %d longitude = %s; want %q", i, got, fmt.Sprint(i))
		}
	}
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer(Retention{})
	b.Append(rec("1", "2"), rec("3", "4"))
	before := b.Snapshot()
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("Len() after Clear = %d; want 0", b.Len())
	}
	if len(b.Snapshot()) != 0 {
		t.Errorf("Snapshot() after Clear has %d records", len(b.Snapshot()))
	}
	if len(before) != 2 || string(before[0].Longitude) != `"1"` {
		t.Errorf("snapshot taken before Clear changed: %v", before)
	}
}

func TestBufferSnapshotIsStable(t *testing.T) {
	b := NewBuffer(Retention{})
	b.Append(rec("1", "1"))
	snap := b.Snapshot()
	b.Append(rec("2", "2"), rec("3", "3"))
	if len(snap) != 1 {
		t.Fatalf("snapshot grew to %d records after Append", len(snap))
	}
	// Appending through the snapshot must not leak into the buffer.
	_ = append(snap, rec("x", "x"))
	if got := string(b.Snapshot()[1].Longitude); got != `"2"` {
		t.Errorf("buffer[1] = %s; want \"2\"", got)
	}
}

func TestBufferMaxCount(t *testing.T) {
	b := NewBuffer(Retention{MaxCount: 3})
	var evicted int
	for i := 0; i < 200; i++ {
		evicted += b.Append(rec(fmt.Sprint(i), "0"))
	}
	if b.Len() != 3 {
		t.Fatalf("Len() = %d; want 3", b.Len())
	}
	if evicted != 197 {
		t.Errorf("evicted = %d; want 197", evicted)
	}
	snap := b.Snapshot()
	for i, want := range []string{"197", "198", "199"} {
		if got := string(snap[i].Longitude); got != fmt.Sprintf("%q", want) {
			t.Errorf("snapshot[%d] = %s; want %q", i, got, want)
		}
	}
}

func TestBufferPrune(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := NewBuffer(Retention{MaxAge: time.Minute})
	b.Append(
		recAt("old", now.Add(-2*time.Minute)),
		recAt("edge", now.Add(-time.Minute)),
		recAt("new", now),
	)
	if n := b.Prune(now); n != 1 {
		t.Fatalf("Prune() = %d; want 1", n)
	}
	if got := string(b.Snapshot()[0].Longitude); got != `"edge"` {
		t.Errorf("oldest surviving record = %s; want \"edge\"", got)
	}

	unbounded := NewBuffer(Retention{})
	unbounded.Append(recAt("old", now.Add(-24*time.Hour)))
	if n := unbounded.Prune(now); n != 0 {
		t.Errorf("Prune() without MaxAge = %d; want 0", n)
	}
}
