package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for relayed batches.
const (
	DropStale     = "stale"
	DropMalformed = "malformed"
)

// Collector holds all Prometheus metrics for the sync service. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Connection metrics
	Connections prometheus.Gauge
	Sessions    prometheus.Gauge

	// Session metrics
	Joins           *prometheus.CounterVec
	BatchesRelayed  *prometheus.CounterVec
	BatchesDropped  *prometheus.CounterVec
	DeliveryFailed  prometheus.Counter
	AccessLookup    *prometheus.HistogramVec
	PresenceDropped prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewCollector creates a collector backed by its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Documents with at least one joined participant",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_joins_total",
			Help:      "Join attempts by result",
		}, []string{"result"}),
		BatchesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_batches_relayed_total",
			Help:      "Change batches relayed to peers",
		}, []string{"target"}),
		BatchesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_batches_dropped_total",
			Help:      "Change batches dropped before relay",
		}, []string{"reason"}),
		DeliveryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Frames that could not be queued for a receiver",
		}),
		AccessLookup: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "access_lookup_duration_seconds",
			Help:      "Permission store lookup duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		PresenceDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_events_dropped_total",
			Help:      "Presence events dropped because the publish buffer was full",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "status"}),
	}

	registry.MustRegister(
		c.Connections,
		c.Sessions,
		c.Joins,
		c.BatchesRelayed,
		c.BatchesDropped,
		c.DeliveryFailed,
		c.AccessLookup,
		c.PresenceDropped,
		c.HTTPRequests,
	)

	return c
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ConnectionOpened() {
	if c != nil {
		c.Connections.Inc()
	}
}

func (c *Collector) ConnectionClosed() {
	if c != nil {
		c.Connections.Dec()
	}
}

func (c *Collector) SetSessions(n int) {
	if c != nil {
		c.Sessions.Set(float64(n))
	}
}

func (c *Collector) RecordJoin(result string) {
	if c != nil {
		c.Joins.WithLabelValues(result).Inc()
	}
}

func (c *Collector) RecordRelay(target string, failed int) {
	if c == nil {
		return
	}
	c.BatchesRelayed.WithLabelValues(target).Inc()
	if failed > 0 {
		c.DeliveryFailed.Add(float64(failed))
	}
}

func (c *Collector) RecordDrop(reason string) {
	if c != nil {
		c.BatchesDropped.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) RecordAccessLookup(status string, elapsed time.Duration) {
	if c != nil {
		c.AccessLookup.WithLabelValues(status).Observe(elapsed.Seconds())
	}
}

func (c *Collector) RecordPresenceDropped() {
	if c != nil {
		c.PresenceDropped.Inc()
	}
}

func (c *Collector) RecordHTTPRequest(method, status string) {
	if c != nil {
		c.HTTPRequests.WithLabelValues(method, status).Inc()
	}
}
