package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookwright_step_duration_seconds",
			Help:    "Pipeline step duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"step"},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookwright_sessions_total",
			Help: "Total number of sessions by final status of a run",
		},
		[]string{"status"},
	)

	reviewGrades = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookwright_review_grades",
			Help:    "Grades returned by the approval evaluator",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
		[]string{"loop"},
	)

	// Generation metrics
	generationCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookwright_generation_calls_total",
			Help: "Total number of generation calls",
		},
		[]string{"provider", "kind", "status"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookwright_generation_duration_seconds",
			Help:    "Generation call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	generationTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookwright_generation_tokens_total",
			Help: "Tokens consumed by generation calls",
		},
		[]string{"provider", "direction"},
	)

	cooldownWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookwright_cooldown_wait_seconds",
			Help:    "Time spent waiting on provider cool-downs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookwright_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookwright_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Retention metrics
	sessionsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookwright_sessions_pruned_total",
			Help: "Total number of abandoned sessions removed",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			stepDuration,
			sessionsTotal,
			reviewGrades,
			generationCallsTotal,
			generationDuration,
			generationTokens,
			cooldownWait,
			httpRequestsTotal,
			httpRequestDuration,
			sessionsPruned,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordStep records the duration of one pipeline step
func RecordStep(step string, duration time.Duration) {
	stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordSession records a run ending in the given status
func RecordSession(status string) {
	sessionsTotal.WithLabelValues(status).Inc()
}

// RecordGrade records an evaluator grade for a revision loop
func RecordGrade(loop string, grade int) {
	reviewGrades.WithLabelValues(loop).Observe(float64(grade))
}

// RecordGeneration records a generation call and its token usage
func RecordGeneration(provider, kind string, err error, duration time.Duration, promptTokens, completionTokens int) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	generationCallsTotal.WithLabelValues(provider, kind, status).Inc()
	generationDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if promptTokens > 0 {
		generationTokens.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		generationTokens.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

// RecordCooldown records time spent waiting for a provider cool-down
func RecordCooldown(provider string, waited time.Duration) {
	cooldownWait.WithLabelValues(provider).Observe(waited.Seconds())
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPruned records removed sessions
func RecordPruned(n int) {
	sessionsPruned.Add(float64(n))
}
