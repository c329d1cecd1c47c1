// Package metrics exposes pool and HTTP metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aqasim81/joke-server/internal/database"
)

const namespace = "jokeserver"

// StatsSource is satisfied by *database.Pool.
type StatsSource interface {
	Stats() database.State
}

// PoolCollector is a prometheus.Collector that reports connection pool
// occupancy at scrape time.
type PoolCollector struct {
	source StatsSource

	maxConns      *prometheus.Desc
	conns         *prometheus.Desc
	acquires      *prometheus.Desc
	emptyAcquires *prometheus.Desc
	canceled      *prometheus.Desc
	degraded      *prometheus.Desc
}

// NewPoolCollector returns a PoolCollector reading from source.
func NewPoolCollector(source StatsSource) *PoolCollector {
	return &PoolCollector{
		source: source,
		maxConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "max_connections"),
			"The maximum number of connections the pool will open.",
			nil, nil,
		),
		conns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "connections"),
			"The number of open connections by state.",
			[]string{"state"}, nil,
		),
		acquires: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "acquires_total"),
			"The number of successful connection acquisitions.",
			nil, nil,
		),
		emptyAcquires: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "empty_acquires_total"),
			"The number of acquisitions that waited because no connection was idle.",
			nil, nil,
		),
		canceled: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "canceled_acquires_total"),
			"The number of acquisitions abandoned by their caller or timed out.",
			nil, nil,
		),
		degraded: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "database", "degraded"),
			"1 when the most recent liveness check failed.",
			nil, nil,
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.maxConns
	ch <- c.conns
	ch <- c.acquires
	ch <- c.emptyAcquires
	ch <- c.canceled
	ch <- c.degraded
}

// Collect is part of the prometheus.Collector interface.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(st.MaxSize))
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(st.Active), "active")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(st.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(st.AcquireCount))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(st.EmptyAcquireCount))
	ch <- prometheus.MustNewConstMetric(c.canceled, prometheus.CounterValue, float64(st.CanceledAcquireCount))

	degraded := 0.0
	if st.Degraded {
		degraded = 1
	}

	ch <- prometheus.MustNewConstMetric(c.degraded, prometheus.GaugeValue, degraded)
}

// HTTPCollector counts and times API requests.
type HTTPCollector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPCollector returns a new HTTPCollector.
func NewHTTPCollector() *HTTPCollector {
	return &HTTPCollector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "The number of HTTP requests served.",
			}, []string{"route", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "The time taken to serve an HTTP request.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
			}, []string{"route"},
		),
	}
}

// Observe records one served request.
func (c *HTTPCollector) Observe(route string, code int, elapsed time.Duration) {
	c.requests.WithLabelValues(route, statusLabel(code)).Inc()
	c.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Describe is part of the prometheus.Collector interface.
func (c *HTTPCollector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.duration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *HTTPCollector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.duration.Collect(ch)
}

// NewRegistry returns a registry holding the given collectors plus the
// Go runtime and process collectors.
func NewRegistry(cs ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	all := append([]prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}, cs...)

	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
