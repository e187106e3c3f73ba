package attackmap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// feedServer serves one list of frames per accepted connection. Every
// connection but the last is dropped once its frames are written; the last one
// stays open until the client goes away.
func feedServer(t *testing.T, sessions ...[]string) *httptest.Server {
	t.Helper()
	var upgrader websocket.Upgrader
	var accepted atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		n := int(accepted.Add(1)) - 1
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n < len(sessions) {
			for _, frame := range sessions[n] {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
		}
		if n < len(sessions)-1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type stateLog struct {
	mu     sync.Mutex
	states []StateChange
}

func (l *stateLog) record(sc StateChange) {
	l.mu.Lock()
	l.states = append(l.states, sc)
	l.mu.Unlock()
}

func (l *stateLog) kinds() []ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ConnState, len(l.states))
	for i, s := range l.states {
		out[i] = s.State
	}
	return out
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
	}
	return Message{}
}

var fastBackoff = Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2}

func TestStreamClientDeliversInOrder(t *testing.T) {
	srv := feedServer(t, []string{
		`[{"geoip_lon":"1","geoip_lat":"2"}]`,
		`not json`,
		`{"unexpected":true}`,
		`{"command":"flush"}`,
		`[{"geoip_lon":"5","geoip_lat":"6"}]`,
	})

	msgs := make(chan Message, 16)
	states := &stateLog{}
	client := NewStreamClient(wsURL(srv), nil, fastBackoff, func(m Message) { msgs <- m }, states.record, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	first := waitMessage(t, msgs)
	if first.Kind != MessageData || Coerce(first.Record.Longitude) != 1 {
		t.Errorf("first message = %+v; want data lon 1", first)
	}
	second := waitMessage(t, msgs)
	if second.Kind != MessageControl || second.Command != CommandFlush {
		t.Errorf("second message = %+v; want flush", second)
	}
	third := waitMessage(t, msgs)
	if third.Kind != MessageData || Coerce(third.Record.Latitude) != 6 {
		t.Errorf("third message = %+v; want data lat 6", third)
	}

	if got := client.State().State; got != StateOpen {
		t.Errorf("State() = %v; want open", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v; want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	kinds := states.kinds()
	if len(kinds) < 3 || kinds[0] != StateConnecting || kinds[1] != StateOpen || kinds[len(kinds)-1] != StateClosed {
		t.Errorf("states = %v; want connecting, open, ..., closed", kinds)
	}
	select {
	case m := <-msgs:
		t.Errorf("unexpected extra message %+v", m)
	default:
	}
}

func TestStreamClientReconnects(t *testing.T) {
	srv := feedServer(t,
		[]string{`[{"geoip_lon":"1","geoip_lat":"1"}]`},
		[]string{`[{"geoip_lon":"2","geoip_lat":"2"}]`},
	)

	msgs := make(chan Message, 16)
	states := &stateLog{}
	client := NewStreamClient(wsURL(srv), nil, fastBackoff, func(m Message) { msgs <- m }, states.record, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	if m := waitMessage(t, msgs); Coerce(m.Record.Longitude) != 1 {
		t.Errorf("first message lon = %v; want 1", Coerce(m.Record.Longitude))
	}
	if m := waitMessage(t, msgs); Coerce(m.Record.Longitude) != 2 {
		t.Errorf("message after reconnect lon = %v; want 2", Coerce(m.Record.Longitude))
	}
	cancel()
	<-done

	states.mu.Lock()
	defer states.mu.Unlock()
	var sawBackoff bool
	for _, s := range states.states {
		if s.State == StateBackoff {
			sawBackoff = true
			if s.Attempt != 1 || s.Delay != fastBackoff.Initial || s.Err == nil {
				t.Errorf("backoff state = %+v; want attempt 1, delay %v, with cause", s, fastBackoff.Initial)
			}
		}
	}
	if !sawBackoff {
		t.Errorf("no backoff state reported: %v", states.states)
	}
}

func TestStreamClientDialFailureBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	states := make(chan StateChange, 64)
	client := NewStreamClient(url, nil, fastBackoff, func(Message) {}, func(sc StateChange) { states <- sc }, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	var delays []time.Duration
	timeout := time.After(5 * time.Second)
	for len(delays) < 4 {
		select {
		case sc := <-states:
			if sc.State == StateBackoff {
				delays = append(delays, sc.Delay)
			}
		case <-timeout:
			t.Fatalf("only saw backoff delays %v", delays)
		}
	}
	cancel()
	<-done

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %v; want %v", i+1, delays[i], want[i])
		}
	}
}

func TestConnStateString(t *testing.T) {
	tests := map[ConnState]string{
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateBackoff:    "backoff",
		StateClosed:     "closed",
		ConnState(42):   "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("ConnState(%d).String() = %q; want %q", int(s), got, want)
		}
	}
}
