package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes search telemetry as Prometheus metrics on its own
// registry.
type Collector struct {
	registry *prometheus.Registry

	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	resultCount   prometheus.Histogram
	cacheLookups  *prometheus.CounterVec
	feedbackTotal *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector registers the search metrics under namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Total number of search requests by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "query_duration_seconds",
			Help:      "Search request duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"strategy"},
	)
	resultCount := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of results returned per search request.",
			Buckets:   []float64{0, 1, 3, 5, 10, 20, 50, 100},
		},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Search requests by cache result.",
		},
		[]string{"result"},
	)
	feedbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "events_total",
			Help:      "Feedback events by strategy and polarity.",
		},
		[]string{"strategy", "polarity"},
	)

	registry.MustRegister(queriesTotal, queryDuration, resultCount, cacheLookups, feedbackTotal)

	return &Collector{
		registry:      registry,
		queriesTotal:  queriesTotal,
		queryDuration: queryDuration,
		resultCount:   resultCount,
		cacheLookups:  cacheLookups,
		feedbackTotal: feedbackTotal,
	}
}

// Record observes one search request.
func (c *Collector) Record(ev QueryEvent) {
	c.queriesTotal.WithLabelValues(ev.Strategy, ev.Outcome()).Inc()
	c.queryDuration.WithLabelValues(ev.Strategy).Observe(ev.Latency.Seconds())
	if ev.ErrorCode != "" {
		return
	}
	c.resultCount.Observe(float64(ev.ResultCount))
	if ev.CacheHit {
		c.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		c.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordFeedback counts one feedback event.
func (c *Collector) RecordFeedback(ev FeedbackEvent) {
	c.feedbackTotal.WithLabelValues(ev.Strategy, ev.Polarity).Inc()
}

// RegisterGaugeFunc exposes a value computed at scrape time, such as the
// cache size.
func (c *Collector) RegisterGaugeFunc(namespace, subsystem, name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
