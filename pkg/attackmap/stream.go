package attackmap

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateBackoff
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// StateChange is reported on every transition of the stream client. Attempt and
// Delay are set for Backoff; Err carries the cause of the drop.
type StateChange struct {
	State   ConnState
	Attempt int
	Delay   time.Duration
	Err     error
}

// StreamClient is a receive-only WebSocket client. Frames are decoded and handed
// to the handler one at a time, in arrival order, on the read goroutine.
type StreamClient struct {
	url       string
	dialer    *websocket.Dialer
	backoff   Backoff
	onMessage func(Message)
	onState   func(StateChange)
	log       *log.Logger
	now       func() time.Time

	mu    sync.Mutex
	state StateChange
}

func NewStreamClient(url string, dialer *websocket.Dialer, backoff Backoff, onMessage func(Message), onState func(StateChange), logger *log.Logger) *StreamClient {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = log.Default()
	}
	if onState == nil {
		onState = func(StateChange) {}
	}
	return &StreamClient{
		url:       url,
		dialer:    dialer,
		backoff:   backoff,
		onMessage: onMessage,
		onState:   onState,
		log:       logger,
		now:       time.Now,
	}
}

func (c *StreamClient) State() StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *StreamClient) setState(sc StateChange) {
	c.mu.Lock()
	c.state = sc
	c.mu.Unlock()
	c.onState(sc)
}

// Run connects and keeps reconnecting until ctx is cancelled. The delay after the
// n-th consecutive failure is backoff.Delay(n); a successful open resets n.
func (c *StreamClient) Run(ctx context.Context) error {
	defer c.setState(StateChange{State: StateClosed})

	attempt := 0
	for {
		c.setState(StateChange{State: StateConnecting, Attempt: attempt})
		c.log.Printf("[stream] Connecting to %s", c.url)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			attempt = 0
			c.log.Printf("[stream] Connected to %s", c.url)
			c.setState(StateChange{State: StateOpen})
			err = c.readLoop(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		delay := c.backoff.Delay(attempt)
		c.log.Printf("[stream] Connection lost: %v. Retrying in %v...", err, delay)
		c.setState(StateChange{State: StateBackoff, Attempt: attempt, Delay: delay, Err: err})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	// Unblock ReadMessage on teardown.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := DecodeMessage(data, c.now())
		if err != nil {
			c.log.Printf("[stream] Discarding frame: %v", err)
			continue
		}
		c.onMessage(msg)
	}
}
