// Package metrics exposes pipeline counters to prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riposte"

// Collector owns its own registry so several collectors can live in one process (tests).
type Collector struct {
	registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	PostsFetched      prometheus.Counter
	FeedFailures      prometheus.Counter
	DraftsSubmitted   prometheus.Counter
	StageFailures     *prometheus.CounterVec
	Decisions         *prometheus.CounterVec
	DraftsExpired     prometheus.Counter
	PublishAttempts   prometheus.Counter
	PublishResults    *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewCollector(version string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Orchestrator runs by final status",
	}, []string{"status"})

	c.RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Orchestrator run duration in seconds",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	})

	c.PostsFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_fetched_total",
		Help:      "Posts returned by the feed before deduplication",
	})

	c.FeedFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_failures_total",
		Help:      "Feed queries that failed",
	})

	c.DraftsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "drafts_submitted_total",
		Help:      "Drafts dispatched to the approver",
	})

	c.StageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_failures_total",
		Help:      "Per-post failures by pipeline stage",
	}, []string{"stage"})

	c.Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Approval decisions by kind and whether they applied",
	}, []string{"decision", "applied"})

	c.DraftsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "drafts_expired_total",
		Help:      "Pending drafts closed by the stale sweep",
	})

	c.PublishAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_attempts_total",
		Help:      "Calls made to the publishing platform",
	})

	c.PublishResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_results_total",
		Help:      "Publish outcomes by error category (empty on success)",
	}, []string{"success", "category"})

	c.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information",
	}, []string{"version"})
	info.WithLabelValues(version).Set(1)

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		info,
		c.RunsTotal,
		c.RunDuration,
		c.PostsFetched,
		c.FeedFailures,
		c.DraftsSubmitted,
		c.StageFailures,
		c.Decisions,
		c.DraftsExpired,
		c.PublishAttempts,
		c.PublishResults,
		c.httpRequestsTotal,
		c.httpDuration,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveDecision(decision string, applied bool) {
	c.Decisions.WithLabelValues(decision, strconv.FormatBool(applied)).Inc()
}

func (c *Collector) ObservePublish(success bool, category string) {
	c.PublishResults.WithLabelValues(strconv.FormatBool(success), category).Inc()
}

// Middleware records request counts and latency per route.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(ctx.Writer.Status())
		c.httpRequestsTotal.WithLabelValues(ctx.Request.Method, endpoint, status).Inc()
		c.httpDuration.WithLabelValues(ctx.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return func(ctx *gin.Context) {
		handler.ServeHTTP(ctx.Writer, ctx.Request)
	}
}
