// Package metrics provides Prometheus metrics for treewalk.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Walk metrics
	recordsDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treewalk_records_discovered_total",
			Help: "Total file records discovered during walks",
		},
		[]string{"type"},
	)

	walkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treewalk_walk_errors_total",
			Help: "Per-entry walk errors by kind",
		},
		[]string{"kind"},
	)

	dirsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treewalk_directories_opened_total",
			Help: "Directories enumerated during walks",
		},
	)

	walkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "treewalk_walk_duration_seconds",
			Help:    "Wall-clock duration of tree walks",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cache I/O metrics
	cacheBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treewalk_cache_bytes_written_total",
			Help: "Bytes written to cache files",
		},
	)

	cacheBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treewalk_cache_bytes_read_total",
			Help: "Bytes read from cache files",
		},
	)

	cacheWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "treewalk_cache_write_duration_seconds",
			Help:    "Duration of collective cache writes",
			Buckets: prometheus.DefBuckets,
		},
	)

	cacheReadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "treewalk_cache_read_duration_seconds",
			Help:    "Duration of collective cache reads",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordDiscovered counts one discovered record by file type.
func RecordDiscovered(fileType string) {
	recordsDiscovered.WithLabelValues(fileType).Inc()
}

// WalkError counts one per-entry walk error by kind.
func WalkError(kind string) {
	walkErrors.WithLabelValues(kind).Inc()
}

// DirOpened counts one enumerated directory.
func DirOpened() {
	dirsOpened.Inc()
}

// ObserveWalk records the duration of a completed walk.
func ObserveWalk(d time.Duration) {
	walkDuration.Observe(d.Seconds())
}

// CacheWritten records bytes written during a cache write.
func CacheWritten(n int64) {
	cacheBytesWritten.Add(float64(n))
}

// CacheRead records bytes read during a cache read.
func CacheRead(n int64) {
	cacheBytesRead.Add(float64(n))
}

// ObserveCacheWrite records the duration of a cache write.
func ObserveCacheWrite(d time.Duration) {
	cacheWriteDuration.Observe(d.Seconds())
}

// ObserveCacheRead records the duration of a cache read.
func ObserveCacheRead(d time.Duration) {
	cacheReadDuration.Observe(d.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
