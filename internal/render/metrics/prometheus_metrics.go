package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

const subsystem = "ps"

// PrometheusMetrics holds the PDF service's Prometheus collectors
type PrometheusMetrics struct {
	// Gate metrics
	gateCapacity prometheus.Gauge
	gateInUse    prometheus.Gauge
	queueDepth   prometheus.Gauge

	// Render metrics
	rendersTotal   *prometheus.CounterVec
	renderDuration prometheus.Histogram
	stateEntries   *prometheus.CounterVec

	// Tab cleanup metrics
	tabCloseFailures prometheus.Counter
	tabsSwept        *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec

	// Error metrics
	errorsTotal *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics registers collectors with the default registry
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry registers collectors with a custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.gateCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "gate_capacity",
		Help:      "Maximum number of concurrent render sessions",
	})

	pm.gateInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "gate_in_use",
		Help:      "Number of render sessions currently holding a slot",
	})

	pm.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "queue_depth",
		Help:      "Number of requests waiting for a render slot",
	})

	pm.rendersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "renders_total",
		Help:      "Total number of render sessions by outcome",
	}, []string{"status"}) // status: success, error, timeout

	pm.renderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "render_duration_seconds",
		Help:      "Time spent producing a PDF, including the wait for a slot",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	})

	pm.stateEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "session_state_entries_total",
		Help:      "Render session state transitions by target state",
	}, []string{"state"})

	pm.tabCloseFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tab_close_failures_total",
		Help:      "Tab close attempts the browser did not acknowledge",
	})

	pm.tabsSwept = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tabs_swept_total",
		Help:      "Leaked tabs handled by the sweeper by result",
	}, []string{"result"}) // result: closed, failed

	pm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by endpoint and status",
	}, []string{"endpoint", "status"})

	pm.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "errors_total",
		Help:      "Total errors by kind",
	}, []string{"kind"})

	registerer.MustRegister(
		pm.gateCapacity,
		pm.gateInUse,
		pm.queueDepth,
		pm.rendersTotal,
		pm.renderDuration,
		pm.stateEntries,
		pm.tabCloseFailures,
		pm.tabsSwept,
		pm.httpRequests,
		pm.errorsTotal,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("PDF Service Prometheus metrics initialized")
	return pm
}

func (pm *PrometheusMetrics) SetGate(capacity, inUse, waiting float64) {
	pm.gateCapacity.Set(capacity)
	pm.gateInUse.Set(inUse)
	pm.queueDepth.Set(waiting)
}

func (pm *PrometheusMetrics) RecordRender(status string) {
	pm.rendersTotal.WithLabelValues(status).Inc()
}

func (pm *PrometheusMetrics) RecordRenderDuration(seconds float64) {
	pm.renderDuration.Observe(seconds)
}

func (pm *PrometheusMetrics) RecordStateEntry(state string) {
	pm.stateEntries.WithLabelValues(state).Inc()
}

func (pm *PrometheusMetrics) RecordTabCloseFailure() {
	pm.tabCloseFailures.Inc()
}

func (pm *PrometheusMetrics) RecordSwept(result string, n int) {
	pm.tabsSwept.WithLabelValues(result).Add(float64(n))
}

func (pm *PrometheusMetrics) RecordHTTPRequest(endpoint, status string) {
	pm.httpRequests.WithLabelValues(endpoint, status).Inc()
}

func (pm *PrometheusMetrics) RecordError(kind string) {
	pm.errorsTotal.WithLabelValues(kind).Inc()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
