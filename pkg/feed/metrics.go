package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the feed server's Prometheus collectors. They are registered on
// the registerer passed to NewMetrics so tests can use a private registry.
type Metrics struct {
	Published  prometheus.Counter
	Suppressed prometheus.Counter
	Enriched   prometheus.Counter
	Invalid    prometheus.Counter
	Flushes    prometheus.Counter
	Dropped    prometheus.Counter
	Clients    prometheus.Gauge
	Requests   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pewpew_events_published_total",
			Help: "Event lines broadcast to clients and written to the daily store.",
		}),
		Suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pewpew_events_suppressed_total",
			Help: "Event lines dropped by the suppression filter.",
		}),
		Enriched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pewpew_events_enriched_total",
			Help: "Event lines that had coordinates added from the GeoIP database.",
		}),
		Invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pewpew_events_invalid_total",
			Help: "Input lines that were neither a data nor a control message.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pewpew_flushes_total",
			Help: "Flush commands sent to clients.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pewpew_client_drops_total",
			Help: "Clients disconnected because they could not keep up.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pewpew_clients",
			Help: "Currently connected WebSocket clients.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pewpew_http_requests_total",
			Help: "HTTP requests served, by route and status.",
		}, []string{"method", "path", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.Published, m.Suppressed, m.Enriched, m.Invalid, m.Flushes, m.Dropped, m.Clients, m.Requests)
	}
	return m
}
