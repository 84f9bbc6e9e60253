package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's Prometheus collectors. Every method is safe on a
// nil receiver so components can be built without metrics.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	jobRuns     *prometheus.CounterVec
	jobLatency  *prometheus.HistogramVec
	jobCascaded prometheus.Counter

	scheduled *prometheus.CounterVec
	streams   *prometheus.CounterVec

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec

	vectorOps     *prometheus.CounterVec
	vectorLatency *prometheus.HistogramVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slidestream_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slidestream_http_request_duration_seconds",
			Help:    "HTTP request latency. Streaming routes include the whole stream.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slidestream_http_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slidestream_job_runs_total",
			Help: "Job attempts by type and outcome.",
		}, []string{"job_type", "outcome"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slidestream_job_duration_seconds",
			Help:    "Job attempt duration by type.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job_type"}),
		jobCascaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slidestream_job_dependency_failures_total",
			Help: "Jobs failed because a job they depend on failed for good.",
		}),
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slidestream_scheduler_jobs_total",
			Help: "Slide summary jobs submitted by the scheduler, by result (created, deduped).",
		}, []string{"result"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slidestream_streams_total",
			Help: "Interactive streams by kind and terminal state.",
		}, []string{"kind", "state"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slidestream_llm_requests_total",
			Help: "Provider calls by operation and status.",
		}, []string{"op", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slidestream_llm_request_duration_seconds",
			Help:    "Provider call latency by operation.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"op"}),
		vectorOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slidestream_vector_store_operations_total",
			Help: "Vector store calls by provider, operation and status.",
		}, []string{"provider", "operation", "status"}),
		vectorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slidestream_vector_store_operation_duration_seconds",
			Help:    "Vector store call latency by provider and operation.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider", "operation"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slidestream_cache_hits_total",
			Help: "Lecture metadata cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slidestream_cache_misses_total",
			Help: "Lecture metadata cache misses.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.jobRuns, m.jobLatency, m.jobCascaded,
		m.scheduled, m.streams,
		m.llmRequests, m.llmLatency,
		m.vectorOps, m.vectorLatency,
		m.cacheHits, m.cacheMisses,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ApiInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) ApiInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

func (m *Metrics) ObserveAPI(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveJob(jobType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(jobType, outcome).Inc()
	m.jobLatency.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *Metrics) AddCascaded(n int64) {
	if m != nil && n > 0 {
		m.jobCascaded.Add(float64(n))
	}
}

func (m *Metrics) AddScheduled(created, deduped int) {
	if m == nil {
		return
	}
	m.scheduled.WithLabelValues("created").Add(float64(created))
	m.scheduled.WithLabelValues("deduped").Add(float64(deduped))
}

func (m *Metrics) IncStream(kind, state string) {
	if m != nil {
		m.streams.WithLabelValues(kind, state).Inc()
	}
}

func (m *Metrics) ObserveLLM(op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(op, status).Inc()
	m.llmLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) ObserveVectorStoreOperation(provider, operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.vectorOps.WithLabelValues(provider, operation, status).Inc()
	m.vectorLatency.WithLabelValues(provider, operation).Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}
