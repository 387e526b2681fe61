package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/render/controlplane"
	"github.com/edgecomet/pdfrender/internal/render/gate"
	"github.com/edgecomet/pdfrender/internal/render/orchestrator"
	"github.com/edgecomet/pdfrender/internal/render/renderr"
)

// MetricsCollector centralizes all metrics recording for the PDF service
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a collector registered with the default registry
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewMetricsCollectorWithRegistry creates a collector registered with registerer
func NewMetricsCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// UpdateGate publishes the gate occupancy
func (mc *MetricsCollector) UpdateGate(stats gate.Stats) {
	mc.prometheus.SetGate(float64(stats.Capacity), float64(stats.InUse), float64(stats.Waiting))
}

// RecordRenderSuccess records a completed render and its duration
func (mc *MetricsCollector) RecordRenderSuccess(seconds float64) {
	mc.prometheus.RecordRender("success")
	mc.prometheus.RecordRenderDuration(seconds)
}

// RecordRenderFailure records a failed render under its error kind
func (mc *MetricsCollector) RecordRenderFailure(err error) {
	kind := renderr.KindOf(err)
	if kind == renderr.KindTimeout {
		mc.prometheus.RecordRender("timeout")
	} else {
		mc.prometheus.RecordRender("error")
	}
	mc.prometheus.RecordError(kind.String())
}

// RecordValidationError records a rejected request body
func (mc *MetricsCollector) RecordValidationError() {
	mc.prometheus.RecordError("validation")
}

// ObserveTransition is an orchestrator.Observer
func (mc *MetricsCollector) ObserveTransition(_ string, _, to orchestrator.State) {
	mc.prometheus.RecordStateEntry(to.String())
}

// RecordTabClose counts unacknowledged tab closes
func (mc *MetricsCollector) RecordTabClose(outcome controlplane.CloseOutcome) {
	if outcome.OK() {
		return
	}
	mc.prometheus.RecordTabCloseFailure()
	mc.logger.Debug("Recorded tab close failure", zap.String("tab_id", outcome.TabID))
}

// RecordSweep records one sweeper pass
func (mc *MetricsCollector) RecordSweep(closed, failed int) {
	mc.prometheus.RecordSwept("closed", closed)
	mc.prometheus.RecordSwept("failed", failed)
}

// RecordHTTPRequest records an HTTP request
func (mc *MetricsCollector) RecordHTTPRequest(endpoint, status string) {
	mc.prometheus.RecordHTTPRequest(endpoint, status)
}

// ServeHTTP serves Prometheus metrics via HTTP
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
