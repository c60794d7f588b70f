package api

import (
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

var (
	includeWorkspaceLabel = os.Getenv("REEL_METRICS_LABELS_WORKSPACE") == "true"
	reqDuration           = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reel", Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"method", "path", "status"},
	)
	// External ops (media pipeline dispatch, social publishes)
	externalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "reel", Name: "external_op_duration_seconds", Help: "Duration of external operations"},
		[]string{"op", "outcome"},
	)
	externalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reel", Name: "external_op_total", Help: "Total external operations"},
		[]string{"op", "outcome"},
	)
	breakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "reel", Name: "circuit_breaker_open", Help: "Circuit breaker state: 1=open, 0=closed"},
		[]string{"breaker"},
	)
	// Render queue / DLQ
	dlqInsertTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reel", Name: "dlq_insert_total", Help: "Total DLQ insertions"},
		[]string{"stream", "reason"},
	)
	dlqDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "reel", Name: "dlq_depth", Help: "Current DLQ depth"},
		[]string{"stream"},
	)
	queuePending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "reel", Name: "queue_pending", Help: "Pending messages in queue consumer groups"},
		[]string{"stream"},
	)
	// API key usage
	apiKeyUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reel", Name: "api_key_usage_total", Help: "API key usage by key prefix (and optional workspace)"},
		[]string{"key_prefix", "workspace"},
	)
	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reel", Name: "rate_limited_total", Help: "Requests rejected by the rate limiter"},
		[]string{"path"},
	)
	// Domain counters
	postsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reel", Name: "posts_published_total", Help: "Scheduled posts published by provider and outcome"},
		[]string{"provider", "outcome"},
	)
	processingJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reel", Name: "processing_jobs_total", Help: "Video processing jobs by outcome"},
		[]string{"outcome"},
	)
	creditsDebitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reel", Name: "credits_debited_total", Help: "Processing credits debited (optionally labeled by workspace)"},
		[]string{"workspace"},
	)
	rendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reel", Name: "clip_renders_total", Help: "Clip render jobs by outcome"},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(reqDuration, reqTotal, externalDuration, externalTotal, breakerOpen,
		dlqInsertTotal, dlqDepth, queuePending, apiKeyUsageTotal, rateLimitedTotal,
		postsPublishedTotal, processingJobsTotal, creditsDebitedTotal, rendersTotal)
}

// MetricsMiddleware records basic HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := []string{c.Request.Method, path, toStr(status)}
		observer := reqDuration.WithLabelValues(labels...)
		// attach exemplar with trace_id if present
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			if eo, ok := observer.(prometheus.ExemplarObserver); ok {
				eo.ObserveWithExemplar(dur, prometheus.Labels{"trace_id": sc.TraceID().String()})
			} else {
				observer.Observe(dur)
			}
		} else {
			observer.Observe(dur)
		}
		reqTotal.With(prometheus.Labels{"method": c.Request.Method, "path": path, "status": toStr(status)}).Inc()
	}
}

func toStr(i int) string { return strconv.Itoa(i) }

// RecordExternalOp records an external operation metric with duration and outcome
func RecordExternalOp(op string, dur time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	externalDuration.WithLabelValues(op, outcome).Observe(dur.Seconds())
	externalTotal.WithLabelValues(op, outcome).Inc()
}

// SetBreakerState updates the breaker state gauge (1=open, 0=closed)
func SetBreakerState(name string, open bool) {
	if open {
		breakerOpen.WithLabelValues(name).Set(1)
	} else {
		breakerOpen.WithLabelValues(name).Set(0)
	}
}

// RecordDLQInsert increments the DLQ insertion counter
func RecordDLQInsert(stream string, reason string) {
	dlqInsertTotal.WithLabelValues(stream, reason).Inc()
}

// SetDLQDepth sets the current DLQ depth gauge
func SetDLQDepth(stream string, n int64) {
	dlqDepth.WithLabelValues(stream).Set(float64(n))
}

// SetQueuePending sets the current pending messages gauge
func SetQueuePending(stream string, n int64) {
	queuePending.WithLabelValues(stream).Set(float64(n))
}

// RecordAPIKeyUsage increments usage counters labeled by key prefix (and workspace if enabled)
func RecordAPIKeyUsage(keyPrefix, workspace string) {
	if !includeWorkspaceLabel {
		workspace = ""
	}
	apiKeyUsageTotal.With(prometheus.Labels{"key_prefix": keyPrefix, "workspace": workspace}).Inc()
}

// RecordRateLimited increments the rate-limited request counter
func RecordRateLimited(path string) { rateLimitedTotal.WithLabelValues(path).Inc() }

// RecordPostPublish records a publish attempt per provider
func RecordPostPublish(provider string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	postsPublishedTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordProcessingJob records a processing job outcome ("accepted", "ready", "failed")
func RecordProcessingJob(outcome string) { processingJobsTotal.WithLabelValues(outcome).Inc() }

// RecordCreditsDebited tracks debited credits (workspace label optional)
func RecordCreditsDebited(workspace string, amount int64) {
	if !includeWorkspaceLabel {
		workspace = ""
	}
	creditsDebitedTotal.WithLabelValues(workspace).Add(float64(amount))
}

// RecordRender records a clip render outcome
func RecordRender(outcome string) { rendersTotal.WithLabelValues(outcome).Inc() }
