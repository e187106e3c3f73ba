package attackmap

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Paths are resolved against the page base URL the same way a browser resolves
// relative links.
const (
	HistoryPath  = "daily.json"
	StreamPath   = "ws"
	BoundaryPath = "map/ne_50m_admin_0_scale_rank.geojson"
)

// StartupOrder controls how the historical load and the live stream are sequenced.
type StartupOrder int

const (
	// StartupSerialized finishes the historical load before dialing the stream, so
	// replayed records always precede live ones.
	StartupSerialized StartupOrder = iota
	// StartupConcurrent starts both at once. Live records may land before the
	// snapshot; buffer order is still arrival order.
	StartupConcurrent
)

// Backoff is the reconnect delay policy: Initial, multiplied after every failed
// attempt, never above Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	if time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

type Config struct {
	// BaseURL is the page origin and path the map is served from, e.g.
	// "https://example.org/pewpew/". History and stream endpoints derive from it.
	BaseURL string

	HistoryTimeout time.Duration
	Retention      Retention
	// PruneInterval is how often the age retention is applied while running.
	PruneInterval time.Duration
	Backoff       Backoff
	Follow        FollowPolicy
	InitialView   ViewState
	Startup       StartupOrder

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *log.Logger
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://127.0.0.1:1323/",
		HistoryTimeout: 30 * time.Second,
		PruneInterval:  time.Second,
		Backoff: Backoff{
			Initial:    1 * time.Second,
			Max:        60 * time.Second,
			Multiplier: 2,
		},
		Follow: FollowPolicy{
			Zoom:         6,
			Duration:     2 * time.Second,
			Interpolator: FlyToInterpolator{ZoomOut: 1},
		},
		InitialView: DefaultViewState(),
		Startup:     StartupSerialized,
	}
}

func (c Config) Validate() error {
	var errs []error
	if _, err := url.Parse(c.BaseURL); err != nil || c.BaseURL == "" {
		errs = append(errs, fmt.Errorf("base url %q is not valid", c.BaseURL))
	}
	if c.Backoff.Initial <= 0 || c.Backoff.Max < c.Backoff.Initial {
		errs = append(errs, fmt.Errorf("backoff: need 0 < initial <= max, got %v..%v", c.Backoff.Initial, c.Backoff.Max))
	}
	if c.Backoff.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff multiplier must be >= 1, got %v", c.Backoff.Multiplier))
	}
	if c.Retention.MaxCount < 0 || c.Retention.MaxAge < 0 {
		errs = append(errs, errors.New("retention limits must not be negative"))
	}
	if c.Retention.MaxAge > 0 && c.PruneInterval <= 0 {
		errs = append(errs, errors.New("prune interval is required when retention max age is set"))
	}
	return errors.Join(errs...)
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Endpoints derives the snapshot, stream and boundary URLs from a page base URL.
// The stream scheme is wss for https pages and ws otherwise.
type Endpoints struct {
	History  string
	Stream   string
	Boundary string
}

func ResolveEndpoints(base string) (Endpoints, error) {
	u, err := url.Parse(base)
	if err != nil {
		return Endpoints{}, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Host == "" {
		return Endpoints{}, fmt.Errorf("base url %q has no host", base)
	}
	u.RawQuery, u.Fragment = "", ""

	var wsScheme string
	switch u.Scheme {
	case "https":
		wsScheme = "wss"
	case "http":
		wsScheme = "ws"
	default:
		return Endpoints{}, fmt.Errorf("base url %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	resolve := func(p string) *url.URL {
		return u.ResolveReference(&url.URL{Path: p})
	}
	stream := resolve(StreamPath)
	stream.Scheme = wsScheme
	return Endpoints{
		History:  resolve(HistoryPath).String(),
		Stream:   stream.String(),
		Boundary: resolve(BoundaryPath).String(),
	}, nil
}
