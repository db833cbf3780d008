package obs

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// Metrics tracks application metrics in a private Prometheus registry.
type Metrics struct {
	registry       *prometheus.Registry
	requests       prometheus.Counter
	cacheHits      prometheus.Counter
	rateLimited    prometheus.Counter
	bookings       prometheus.Counter
	providerErrors *prometheus.CounterVec
	searchDuration prometheus.Histogram
	slotsReturned  prometheus.Histogram
	logger         *zap.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of search requests",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		}),
		bookings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookings_total",
			Help: "Total number of confirmed bookings",
		}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_errors_total",
			Help: "Total number of provider errors",
		}, []string{"provider"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "search_duration_seconds",
			Help:    "Time spent aggregating a search",
			Buckets: prometheus.DefBuckets,
		}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "search_slots_returned",
			Help:    "Number of slots returned per search",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		logger: logger,
	}

	m.registry.MustRegister(
		m.requests,
		m.cacheHits,
		m.rateLimited,
		m.bookings,
		m.providerErrors,
		m.searchDuration,
		m.slotsReturned,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requests.Inc()
}

// IncCacheHits increments the cache hits counter.
func (m *Metrics) IncCacheHits() {
	m.cacheHits.Inc()
}

// IncRateLimited increments the rejected requests counter.
func (m *Metrics) IncRateLimited() {
	m.rateLimited.Inc()
}

// IncBookings increments the bookings counter.
func (m *Metrics) IncBookings() {
	m.bookings.Inc()
}

// IncProviderErrors increments the error counter of one provider.
func (m *Metrics) IncProviderErrors(provider string) {
	m.providerErrors.WithLabelValues(provider).Inc()
}

// ObserveSearch records the duration and size of one aggregated search.
func (m *Metrics) ObserveSearch(d time.Duration, slots int) {
	m.searchDuration.Observe(d.Seconds())
	m.slotsReturned.Observe(float64(slots))
}

// Snapshot returns current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:       int64(counterValue(m.requests)),
		CacheHits:      int64(counterValue(m.cacheHits)),
		RateLimited:    int64(counterValue(m.rateLimited)),
		Bookings:       int64(counterValue(m.bookings)),
		ProviderErrors: int64(counterValue(m.providerErrors)),
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	Requests       int64
	CacheHits      int64
	RateLimited    int64
	Bookings       int64
	ProviderErrors int64
}

// counterValue sums every counter series a collector exposes.
func counterValue(c prometheus.Collector) float64 {
	ch := make(chan prometheus.Metric)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err == nil && pb.Counter != nil {
			total += pb.Counter.GetValue()
		}
	}
	return total
}

// MetricsHandler returns a handler for /metrics requests in Prometheus format.
func (m *Metrics) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(m.logger),
	})
}

// HealthHandler returns a handler for /healthz requests.
func HealthHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		body := map[string]any{"ok": true, "time": time.Now().UTC().Format(time.RFC3339)}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logger.Error("failed to write health response", zap.Error(err))
		}
	}
}
