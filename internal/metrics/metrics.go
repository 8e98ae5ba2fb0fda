package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	emitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_emits_total",
			Help: "Outbound channel emits by event name",
		},
		[]string{"event"},
	)

	emitsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_emits_cancelled_total",
			Help: "Deferred emits cancelled by a superseding transition",
		},
	)

	batchFlushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_batch_flushes_total",
			Help: "Batch buffer flushes",
		},
	)

	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "presence_batch_size",
			Help:    "Entries per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	rosterSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_roster_size",
			Help: "Users currently in the roster",
		},
	)

	cacheItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_items",
			Help: "Approximate number of items in the volatile cache tier",
		},
	)
)

func init() {
	Registry.MustRegister(reqTotal, reqDuration, emitsTotal, emitsCancelled, batchFlushes, batchSize, rosterSize, cacheItems)
}

// RecordEmit counts one outbound channel emit
func RecordEmit(event string) {
	emitsTotal.WithLabelValues(event).Inc()
}

// RecordEmitCancelled counts a deferred emit superseded before firing
func RecordEmitCancelled() {
	emitsCancelled.Inc()
}

// RecordBatchFlush counts one batch flush and its size
func RecordBatchFlush(entries int) {
	batchFlushes.Inc()
	batchSize.Observe(float64(entries))
}

// SetRosterSize gauges the current roster size
func SetRosterSize(n int) {
	rosterSize.Set(float64(n))
}

// CacheSizer provides ability to get cache size
type CacheSizer interface{ Size() int }

// UpdateCacheItems gauges current cache size
func UpdateCacheItems(c CacheSizer) {
	if c == nil {
		return
	}
	cacheItems.Set(float64(c.Size()))
}

// Middleware instruments HTTP requests
func Middleware(route string, next http.Handler, sizer CacheSizer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Capture status code
		rw := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rw, r)

		dur := time.Since(start).Seconds()
		reqDuration.WithLabelValues(r.Method, route).Observe(dur)
		reqTotal.WithLabelValues(r.Method, route, http.StatusText(rw.status)).Inc()

		// Update cache items gauge opportunistically
		UpdateCacheItems(sizer)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Handler returns a promhttp handler for the Registry
func Handler() http.Handler { return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}) }
