// Package metrics collects and exposes Prometheus metrics for the refresh
// pipeline and the HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and updates all hnmirror metrics.
type Collector struct {
	registry *prometheus.Registry

	refreshCycles     *prometheus.CounterVec
	storiesUpserted   prometheus.Counter
	commentsUpserted  prometheus.Counter
	remoteFetchTime   prometheus.Histogram
	remoteFetchFailed prometheus.Counter
	httpStatus        *prometheus.CounterVec
}

// NewCollector creates a Collector with its own private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		refreshCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnmirror_refresh_cycles_total",
			Help: "Refresh cycles by outcome status.",
		}, []string{"status"}),
		storiesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnmirror_stories_upserted_total",
			Help: "Stories written during refresh cycles.",
		}),
		commentsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnmirror_comments_upserted_total",
			Help: "Comments written during refresh cycles.",
		}),
		remoteFetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hnmirror_remote_fetch_seconds",
			Help:    "Latency of remote API calls.",
			Buckets: prometheus.DefBuckets,
		}),
		remoteFetchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hnmirror_remote_fetch_failures_total",
			Help: "Remote API calls that failed or returned bad bodies.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hnmirror_http_requests_total",
			Help: "HTTP responses by status code.",
		}, []string{"code"}),
	}

	c.registry.MustRegister(
		c.refreshCycles,
		c.storiesUpserted,
		c.commentsUpserted,
		c.remoteFetchTime,
		c.remoteFetchFailed,
		c.httpStatus,
	)

	return c
}

// RecordRefreshCycle records one completed cycle with the logged status.
func (c *Collector) RecordRefreshCycle(status string, stories, comments int) {
	c.refreshCycles.WithLabelValues(status).Inc()
	c.storiesUpserted.Add(float64(stories))
	c.commentsUpserted.Add(float64(comments))
}

// RecordRemoteFetch records the latency of one remote API call.
func (c *Collector) RecordRemoteFetch(d time.Duration, ok bool) {
	c.remoteFetchTime.Observe(d.Seconds())
	if !ok {
		c.remoteFetchFailed.Inc()
	}
}

// RecordHTTPStatus records one HTTP response.
func (c *Collector) RecordHTTPStatus(code int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler returns the scrape endpoint for the private registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
