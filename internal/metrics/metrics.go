package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records a try_get call.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records an add call.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit   CacheLookupOutcome = "hit"
	CacheLookupMiss  CacheLookupOutcome = "miss"
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	CacheStoreStored  CacheStoreOutcome = "stored"
	CacheStoreSkipped CacheStoreOutcome = "skipped"
	CacheStoreError   CacheStoreOutcome = "error"
)

// AuthRefreshOutcome captures how a single-flight refresh resolved.
type AuthRefreshOutcome string

const (
	AuthRefreshSucceeded AuthRefreshOutcome = "succeeded"
	AuthRefreshPiggyback AuthRefreshOutcome = "piggyback"
	AuthRefreshAbsent    AuthRefreshOutcome = "absent"
	AuthRefreshSwallowed AuthRefreshOutcome = "swallowed"
)

// AuthRetryOutcome captures the status of the retry exchange after a
// successful refresh.
type AuthRetryOutcome string

const (
	AuthRetrySucceeded       AuthRetryOutcome = "succeeded"
	AuthRetryStillUnauthorized AuthRetryOutcome = "still_unauthorized"
)

// Recorder publishes Prometheus metrics for the cache and auth
// middlewares plus the network-failure wrapper.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	authAttach          *prometheus.CounterVec
	authAttachLatency   prometheus.Histogram
	authRefresh         *prometheus.CounterVec
	authRefreshLatency  *prometheus.HistogramVec
	authRetry           *prometheus.CounterVec
	sessionExpired      prometheus.Counter
	networkFailures     *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mallard",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache middleware operations, by operation and result.",
	}, []string{"operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mallard",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache middleware operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	authAttach := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mallard",
		Subsystem: "auth",
		Name:      "attach_total",
		Help:      "Requests that had a token attached (or stripped), by whether a token was present.",
	}, []string{"token_present"})

	authAttachLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mallard",
		Subsystem: "auth",
		Name:      "attach_duration_seconds",
		Help:      "Latency of the initial token-attached exchange.",
		Buckets:   prometheus.DefBuckets,
	})

	authRefresh := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mallard",
		Subsystem: "auth",
		Name:      "refresh_total",
		Help:      "Refresh attempts, by outcome.",
	}, []string{"outcome"})

	authRefreshLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mallard",
		Subsystem: "auth",
		Name:      "refresh_duration_seconds",
		Help:      "Latency distribution for refresh attempts, by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	authRetry := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mallard",
		Subsystem: "auth",
		Name:      "retry_total",
		Help:      "Retry exchanges after a successful refresh, by outcome.",
	}, []string{"outcome"})

	sessionExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mallard",
		Subsystem: "auth",
		Name:      "session_expired_total",
		Help:      "Session-expired notifications delivered (deduplicated by access-token value).",
	})

	networkFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mallard",
		Subsystem: "network",
		Name:      "failures_total",
		Help:      "Exchanger failures observed by the network wrapper, by whether they were reclassified as no-network.",
	}, []string{"wrapped"})

	reg.MustRegister(
		cacheOperations, cacheLatency,
		authAttach, authAttachLatency, authRefresh, authRefreshLatency, authRetry, sessionExpired,
		networkFailures,
	)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:           reg,
		handler:            handler,
		cacheOperations:    cacheOperations,
		cacheLatency:       cacheLatency,
		authAttach:         authAttach,
		authAttachLatency:  authAttachLatency,
		authRefresh:        authRefresh,
		authRefreshLatency: authRefreshLatency,
		authRetry:          authRetry,
		sessionExpired:     sessionExpired,
		networkFailures:    networkFailures,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and
// advanced integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCacheLookup records the result of a cache try_get call.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.observeCache(CacheOperationLookup, string(result), duration)
}

// ObserveCacheStore records the result of a cache add call.
func (r *Recorder) ObserveCacheStore(result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.observeCache(CacheOperationStore, string(result), duration)
}

func (r *Recorder) observeCache(operation CacheOperation, result string, duration time.Duration) {
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(string(operation), resLabel).Inc()
	r.cacheLatency.WithLabelValues(string(operation), resLabel).Observe(duration.Seconds())
}

// ObserveAuthAttach records the initial token-attached exchange.
func (r *Recorder) ObserveAuthAttach(tokenPresent bool, duration time.Duration) {
	if r == nil {
		return
	}
	label := "false"
	if tokenPresent {
		label = "true"
	}
	r.authAttach.WithLabelValues(label).Inc()
	r.authAttachLatency.Observe(duration.Seconds())
}

// ObserveAuthRefresh records the outcome of a refresh attempt.
func (r *Recorder) ObserveAuthRefresh(outcome AuthRefreshOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	label := normalizeLabel(string(outcome))
	r.authRefresh.WithLabelValues(label).Inc()
	r.authRefreshLatency.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveAuthRetry records the outcome of a post-refresh retry exchange.
func (r *Recorder) ObserveAuthRetry(outcome AuthRetryOutcome) {
	if r == nil {
		return
	}
	r.authRetry.WithLabelValues(normalizeLabel(string(outcome))).Inc()
}

// ObserveSessionExpired records a delivered session-expired notification.
func (r *Recorder) ObserveSessionExpired() {
	if r == nil {
		return
	}
	r.sessionExpired.Inc()
}

// ObserveNetworkFailure records an exchanger failure observed by the
// network wrapper. wrapped indicates it was reclassified as no-network.
func (r *Recorder) ObserveNetworkFailure(wrapped bool) {
	if r == nil {
		return
	}
	label := "false"
	if wrapped {
		label = "true"
	}
	r.networkFailures.WithLabelValues(label).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
