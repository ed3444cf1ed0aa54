package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIMetrics covers the api process: HTTP traffic plus the workflow signals
// that matter for a corrective pipeline — how turns end, which grades the
// grader hands out, how often grounding forces a retry and how often the web
// fallback kicks in.
type APIMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	turnsTotal           *prometheus.CounterVec
	turnDuration         *prometheus.HistogramVec
	nodeVisitsTotal      *prometheus.CounterVec
	gradesTotal          *prometheus.CounterVec
	groundingRetries     *prometheus.HistogramVec
	interruptsTotal      *prometheus.CounterVec
	webSearchTotal       *prometheus.CounterVec
	retrievedParents     *prometheus.HistogramVec
	reviewDecisionsTotal *prometheus.CounterVec
}

func NewAPIMetrics(service string) *APIMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nexus",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nexus",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "workflow",
			Name:      "turns_total",
			Help:      "Completed workflow stream segments by outcome.",
		},
		[]string{"service", "outcome"},
	)
	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nexus",
			Subsystem: "workflow",
			Name:      "turn_duration_seconds",
			Help:      "Stream segment duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	nodeVisitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "workflow",
			Name:      "node_visits_total",
			Help:      "Workflow node entries observed on the event stream.",
		},
		[]string{"service", "node"},
	)
	gradesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "workflow",
			Name:      "grades_total",
			Help:      "Relevance grades assigned to retrieved context.",
		},
		[]string{"service", "grade"},
	)
	groundingRetries := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nexus",
			Subsystem: "workflow",
			Name:      "grounding_retries",
			Help:      "Regeneration attempts forced by the grounding check per turn.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"service"},
	)
	interruptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "workflow",
			Name:      "interrupts_total",
			Help:      "Human review interrupts emitted.",
		},
		[]string{"service"},
	)
	webSearchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "workflow",
			Name:      "web_search_total",
			Help:      "Web search invocations by mode and result.",
		},
		[]string{"service", "mode", "status"},
	)
	retrievedParents := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nexus",
			Subsystem: "retrieval",
			Name:      "parent_chunks",
			Help:      "Parent chunks returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service"},
	)
	reviewDecisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "workflow",
			Name:      "review_decisions_total",
			Help:      "Human review decisions by action.",
		},
		[]string{"service", "action"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		turnsTotal,
		turnDuration,
		nodeVisitsTotal,
		gradesTotal,
		groundingRetries,
		interruptsTotal,
		webSearchTotal,
		retrievedParents,
		reviewDecisionsTotal,
	)

	return &APIMetrics{
		registry:             registry,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		turnsTotal:           turnsTotal,
		turnDuration:         turnDuration,
		nodeVisitsTotal:      nodeVisitsTotal,
		gradesTotal:          gradesTotal,
		groundingRetries:     groundingRetries,
		interruptsTotal:      interruptsTotal,
		webSearchTotal:       webSearchTotal,
		retrievedParents:     retrievedParents,
		reviewDecisionsTotal: reviewDecisionsTotal,
	}
}

func (m *APIMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *APIMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	case strings.HasPrefix(path, "/v1/threads/") && strings.HasSuffix(path, "/invoke"):
		return "/v1/threads/{thread_id}/invoke"
	case strings.HasPrefix(path, "/v1/threads/") && strings.HasSuffix(path, "/resume"):
		return "/v1/threads/{thread_id}/resume"
	default:
		return path
	}
}

func (m *APIMetrics) RecordTurn(service, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.turnsTotal.WithLabelValues(service, outcome).Inc()
	m.turnDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

func (m *APIMetrics) RecordNodeVisit(service, node string) {
	m.nodeVisitsTotal.WithLabelValues(service, node).Inc()
}

func (m *APIMetrics) RecordGrade(service, grade string) {
	if grade == "" {
		grade = "unknown"
	}
	m.gradesTotal.WithLabelValues(service, grade).Inc()
}

func (m *APIMetrics) RecordGroundingRetries(service string, attempts int) {
	m.groundingRetries.WithLabelValues(service).Observe(float64(attempts))
}

func (m *APIMetrics) RecordInterrupt(service string) {
	m.interruptsTotal.WithLabelValues(service).Inc()
}

func (m *APIMetrics) RecordWebSearch(service, mode, status string) {
	if mode == "" {
		mode = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.webSearchTotal.WithLabelValues(service, mode, status).Inc()
}

func (m *APIMetrics) RecordRetrievedParents(service string, count int) {
	m.retrievedParents.WithLabelValues(service).Observe(float64(count))
}

func (m *APIMetrics) RecordReviewDecision(service, action string) {
	if action == "" {
		action = "unknown"
	}
	m.reviewDecisionsTotal.WithLabelValues(service, action).Inc()
}

// WorkflowRecorder adapts APIMetrics to the workflow engine's observer
// interface, pinning the service label.
type WorkflowRecorder struct {
	metrics *APIMetrics
	service string
}

func NewWorkflowRecorder(metrics *APIMetrics, service string) *WorkflowRecorder {
	return &WorkflowRecorder{metrics: metrics, service: service}
}

func (r *WorkflowRecorder) RecordGrade(grade string) {
	r.metrics.RecordGrade(r.service, grade)
}

func (r *WorkflowRecorder) RecordGroundingRetries(attempts int) {
	r.metrics.RecordGroundingRetries(r.service, attempts)
}

func (r *WorkflowRecorder) RecordWebSearch(mode, status string) {
	r.metrics.RecordWebSearch(r.service, mode, status)
}

func (r *WorkflowRecorder) RecordRetrievedParents(count int) {
	r.metrics.RecordRetrievedParents(r.service, count)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
