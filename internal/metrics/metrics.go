// Package metrics exposes the broker's Prometheus instrumentation.
// Everything registers on the default registry; the broker serves it at
// /metrics via promhttp.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r2browser/r2browser/internal/cache"
)

var (
	// RequestsTotal counts broker requests by method, route pattern and
	// response status class.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "r2browser",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Broker HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// RequestDuration tracks broker request latency by route.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "r2browser",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Broker HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// TransferBytes counts object body bytes moved through the broker.
	TransferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "r2browser",
		Subsystem: "transfer",
		Name:      "bytes_total",
		Help:      "Object body bytes streamed, by direction.",
	}, []string{"direction"})

	// TasksTotal counts transfer tasks by type and terminal outcome.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "r2browser",
		Subsystem: "transfer",
		Name:      "tasks_total",
		Help:      "Transfer tasks reaching a terminal state, by type and outcome.",
	}, []string{"type", "outcome"})
)

var cacheRegistration sync.Once

// RegisterFolderCache exports the listing cache counters as gauges read
// at scrape time. Only the first cache registers; the process has one.
func RegisterFolderCache(fc *cache.FolderCache) {
	cacheRegistration.Do(func() { registerFolderCache(fc) })
}

func registerFolderCache(fc *cache.FolderCache) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "r2browser",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Listing cache entries currently held.",
		}, func() float64 { return float64(fc.Statistics().Entries) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "r2browser",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Listing cache hits since start.",
		}, func() float64 { return float64(fc.Statistics().Hits) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "r2browser",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Listing cache misses since start.",
		}, func() float64 { return float64(fc.Statistics().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "r2browser",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Listing cache evictions since start.",
		}, func() float64 { return float64(fc.Statistics().Evictions) }),
	)
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
