// Package metrics holds the Prometheus collectors for the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "djsite"

// Feed fetch results.
const (
	FetchOK          = "ok"
	FetchNotModified = "not_modified"
	FetchUnavailable = "unavailable"
	FetchMalformed   = "malformed"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	FeedFetches         *prometheus.CounterVec
	FeedSkipped         prometheus.Counter
	FeedSyncs           *prometheus.CounterVec
	AggregationDuration prometheus.Histogram
	SourceFailures      *prometheus.CounterVec
	FallbackActivations prometheus.Counter
	RequestCounter      *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	WebsocketClients    prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FeedFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "fetches_total",
				Help:      "Calendar feed fetches by result",
			},
			[]string{"result"},
		),
		FeedSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "components_skipped_total",
				Help:      "Feed components skipped because they could not be parsed",
			},
		),
		FeedSyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "syncs_total",
				Help:      "Feed imports into the event store by result",
			},
			[]string{"result"},
		),
		AggregationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "aggregation_duration_seconds",
				Help:      "Time spent merging store and feed events",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SourceFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "source_failures_total",
				Help:      "Event source failures during aggregation",
			},
			[]string{"source"},
		),
		FallbackActivations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "fallback_total",
				Help:      "Times the sample event set was served",
			},
		),
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		WebsocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ws",
				Name:      "clients",
				Help:      "Connected websocket clients",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FeedFetch counts a feed fetch result.
func (m *Metrics) FeedFetch(result string) {
	if m == nil {
		return
	}
	m.FeedFetches.WithLabelValues(result).Inc()
}

// ComponentSkipped counts a skipped feed component.
func (m *Metrics) ComponentSkipped() {
	if m == nil {
		return
	}
	m.FeedSkipped.Inc()
}

// FeedSync counts a feed import run.
func (m *Metrics) FeedSync(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FeedSyncs.WithLabelValues(result).Inc()
}

// ObserveAggregation records one aggregation run.
func (m *Metrics) ObserveAggregation(d time.Duration, fallback bool) {
	if m == nil {
		return
	}
	m.AggregationDuration.Observe(d.Seconds())
	if fallback {
		m.FallbackActivations.Inc()
	}
}

// SourceFailure counts a failed event source.
func (m *Metrics) SourceFailure(source string) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(source).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ClientConnected adjusts the websocket client gauge.
func (m *Metrics) ClientConnected(delta int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Add(float64(delta))
}
