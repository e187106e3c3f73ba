package attackmap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordingSurface struct {
	frames chan Frame
	states chan StateChange
}

func newRecordingSurface() *recordingSurface {
	return &recordingSurface{frames: make(chan Frame, 64), states: make(chan StateChange, 64)}
}

func (r *recordingSurface) Render(f Frame)                   { r.frames <- f }
func (r *recordingSurface) ConnectionChanged(sc StateChange) { r.states <- sc }

func (r *recordingSurface) next(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	return Frame{}
}

func testSessionConfig(base string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = base
	cfg.Logger = discardLogger()
	cfg.Backoff = fastBackoff
	cfg.HistoryTimeout = 2 * time.Second
	return cfg
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(testSessionConfig("http://127.0.0.1:1/"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func mustDecode(t *testing.T, frame string) Message {
	t.Helper()
	m, err := DecodeMessage([]byte(frame), testTime)
	if err != nil {
		t.Fatalf("DecodeMessage(%s): %v", frame, err)
	}
	return m
}

func positions(f Frame) [][2]float64 {
	out := make([][2]float64, len(f.Points))
	for i, p := range f.Points {
		out[i] = p.Position
	}
	return out
}

func TestSessionHistoryLiveFlushScenario(t *testing.T) {
	s := newTestSession(t)
	surface := newRecordingSurface()
	s.Attach(surface)
	if f := surface.next(t); len(f.Points) != 0 {
		t.Fatalf("initial frame has %d points", len(f.Points))
	}

	history, err := ParseSnapshot(
		strings.NewReader("[{\"geoip_lon\":\"1\",\"geoip_lat\":\"2\"}]\n[{\"geoip_lon\":\"3\",\"geoip_lat\":\"4\"}]\n"),
		testTime, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.AppendHistory(history)
	f := surface.next(t)
	if got := positions(f); len(got) != 2 || got[0] != [2]float64{1, 2} || got[1] != [2]float64{3, 4} {
		t.Fatalf("after history: positions = %v; want [[1 2] [3 4]]", got)
	}

	s.Apply(mustDecode(t, `[{"geoip_lon":"5","geoip_lat":"6"}]`))
	f = surface.next(t)
	if got := positions(f); len(got) != 3 || got[2] != [2]float64{5, 6} {
		t.Fatalf("after live: positions = %v; want [5 6] appended", got)
	}

	s.Apply(mustDecode(t, `{"command":"flush"}`))
	f = surface.next(t)
	if len(f.Points) != 0 || s.Buffer().Len() != 0 {
		t.Fatalf("after flush: %d points, buffer %d; want 0", len(f.Points), s.Buffer().Len())
	}
	if f.Seq != 3 {
		t.Errorf("frame seq = %d; want 3", f.Seq)
	}
}

func TestSessionIgnoresUnknownCommand(t *testing.T) {
	s := newTestSession(t)
	s.Apply(mustDecode(t, `[{"geoip_lon":"5","geoip_lat":"6"}]`))
	before := s.Frame()
	s.Apply(mustDecode(t, `{"command":"reboot"}`))
	after := s.Frame()
	if after.Seq != before.Seq || len(after.Points) != 1 {
		t.Errorf("unknown command changed state: seq %d -> %d, %d points", before.Seq, after.Seq, len(after.Points))
	}
}

func TestSessionFlushOnEmptyBuffer(t *testing.T) {
	s := newTestSession(t)
	s.Apply(mustDecode(t, `{"command":"flush"}`))
	if f := s.Frame(); f.Seq != 1 || len(f.Points) != 0 {
		t.Errorf("frame = seq %d with %d points; want seq 1, empty", f.Seq, len(f.Points))
	}
}

func TestSessionRetentionMaxCount(t *testing.T) {
	cfg := testSessionConfig("http://127.0.0.1:1/")
	cfg.Retention = Retention{MaxCount: 2}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, lon := range []string{"1", "2", "3"} {
		s.Apply(mustDecode(t, `[{"geoip_lon":"`+lon+`","geoip_lat":"0"}]`))
	}
	got := positions(s.Frame())
	if len(got) != 2 || got[0][0] != 2 || got[1][0] != 3 {
		t.Errorf("positions = %v; want the two newest", got)
	}
}

func TestSessionPrune(t *testing.T) {
	cfg := testSessionConfig("http://127.0.0.1:1/")
	cfg.Retention = Retention{MaxAge: time.Minute}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	now := testTime.Add(time.Hour)
	s.now = func() time.Time { return now }

	old := mustDecode(t, `[{"geoip_lon":"1","geoip_lat":"1"}]`)
	s.Apply(old)
	fresh := mustDecode(t, `[{"geoip_lon":"2","geoip_lat":"2"}]`)
	fresh.Record.ReceivedAt = now
	s.Apply(fresh)

	seq := s.Frame().Seq
	if n := s.Prune(); n != 1 {
		t.Fatalf("Prune() = %d; want 1", n)
	}
	f := s.Frame()
	if f.Seq != seq+1 || len(f.Points) != 1 || f.Points[0].Position[0] != 2 {
		t.Errorf("after prune: seq %d, positions %v", f.Seq, positions(f))
	}
	if n := s.Prune(); n != 0 || s.Frame().Seq != seq+1 {
		t.Errorf("second Prune() = %d and reprojected; want a no-op", n)
	}
}

func TestSessionCameraFollowsLatestPoint(t *testing.T) {
	cfg := testSessionConfig("http://127.0.0.1:1/")
	cfg.Follow = FollowPolicy{Enabled: true, Zoom: 8, Interpolator: LinearInterpolator{}}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s.Apply(mustDecode(t, `[{"geoip_lon":"10.5","geoip_lat":"-20.25"}]`))
	v := s.Camera().Target()
	if v.Longitude != 10.5 || v.Latitude != -20.25 || v.Zoom != 8 {
		t.Errorf("camera target = %+v; want (10.5, -20.25) at zoom 8", v)
	}

	s.Resize(800, 600)
	v = s.Camera().View()
	if v.Width != 800 || v.Height != 600 || v.Longitude != 10.5 {
		t.Errorf("after resize view = %+v", v)
	}
}

func TestSessionRunSerialized(t *testing.T) {
	var upgrader websocket.Upgrader
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/daily.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "[{\"geoip_lon\":\"1\",\"geoip_lat\":\"2\"}]\n\n[{\"geoip_lon\":\"3\",\"geoip_lat\":\"4\"}]\n")
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"geoip_lon":"5","geoip_lat":"6"}]`))
		<-release
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"flush"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := NewSession(testSessionConfig(srv.URL + "/"))
	if err != nil {
		t.Fatal(err)
	}
	surface := newRecordingSurface()
	s.Attach(surface)
	surface.next(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if got := positions(surface.next(t)); len(got) != 2 || got[1] != [2]float64{3, 4} {
		t.Fatalf("history frame positions = %v", got)
	}
	if got := positions(surface.next(t)); len(got) != 3 || got[2] != [2]float64{5, 6} {
		t.Fatalf("live frame positions = %v", got)
	}
	close(release)
	if f := surface.next(t); len(f.Points) != 0 {
		t.Fatalf("flush frame has %d points", len(f.Points))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v; want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := s.ConnectionState().State; got != StateClosed {
		t.Errorf("connection state = %v; want closed", got)
	}
}

func TestSessionRunHistoryFailureStillStreams(t *testing.T) {
	var upgrader websocket.Upgrader
	mux := http.NewServeMux()
	mux.HandleFunc("/daily.json", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"geoip_lon":"7","geoip_lat":"8"}]`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := NewSession(testSessionConfig(srv.URL + "/"))
	if err != nil {
		t.Fatal(err)
	}
	surface := newRecordingSurface()
	s.Attach(surface)
	surface.next(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if f := surface.next(t); len(f.Points) != 0 || f.Seq != 1 {
		t.Fatalf("failed history frame = seq %d, %d points; want one empty projection", f.Seq, len(f.Points))
	}
	if got := positions(surface.next(t)); len(got) != 1 || got[0] != [2]float64{7, 8} {
		t.Fatalf("live frame positions = %v", got)
	}
	cancel()
	<-done

	var sawOpen bool
drain:
	for {
		select {
		case sc := <-surface.states:
			if sc.State == StateOpen {
				sawOpen = true
			}
		default:
			break drain
		}
	}
	if !sawOpen {
		t.Error("surface was never told the stream opened")
	}
}

// slowHistoryServer holds daily.json until release is closed or the request is
// cancelled, while /ws pushes one live record right away.
func slowHistoryServer(t *testing.T, release <-chan struct{}) *httptest.Server {
	t.Helper()
	var upgrader websocket.Upgrader
	stop := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/daily.json", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		case <-stop:
			return
		}
		_, _ = io.WriteString(w, "[{\"geoip_lon\":\"1\",\"geoip_lat\":\"2\"}]\n[{\"geoip_lon\":\"3\",\"geoip_lat\":\"4\"}]\n")
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"geoip_lon":"5","geoip_lat":"6"}]`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		close(stop)
		srv.Close()
	})
	return srv
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v; want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSessionRunConcurrent(t *testing.T) {
	release := make(chan struct{})
	srv := slowHistoryServer(t, release)

	cfg := testSessionConfig(srv.URL + "/")
	cfg.Startup = StartupConcurrent
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	surface := newRecordingSurface()
	s.Attach(surface)
	surface.next(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if got := positions(surface.next(t)); len(got) != 1 || got[0] != [2]float64{5, 6} {
		t.Fatalf("first frame positions = %v; want the live record before the snapshot", got)
	}
	close(release)
	want := [][2]float64{{5, 6}, {1, 2}, {3, 4}}
	got := positions(surface.next(t))
	if len(got) != len(want) {
		t.Fatalf("frame after snapshot = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d = %v; want %v (arrival order)", i, got[i], want[i])
		}
	}

	cancel()
	waitRun(t, done)
}

func TestSessionRunConcurrentCancelDuringHistory(t *testing.T) {
	srv := slowHistoryServer(t, make(chan struct{}))

	cfg := testSessionConfig(srv.URL + "/")
	cfg.Startup = StartupConcurrent
	cfg.HistoryTimeout = time.Minute
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	surface := newRecordingSurface()
	s.Attach(surface)
	surface.next(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if got := positions(surface.next(t)); len(got) != 1 || got[0] != [2]float64{5, 6} {
		t.Fatalf("live frame positions = %v", got)
	}
	cancel()
	waitRun(t, done)

	if got := positions(s.Frame()); len(got) != 1 {
		t.Errorf("positions after cancel = %v; want only the live record", got)
	}
}
