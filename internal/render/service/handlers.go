package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/common/httputil"
	"github.com/edgecomet/pdfrender/internal/common/requestid"
	"github.com/edgecomet/pdfrender/internal/render/controlplane"
	"github.com/edgecomet/pdfrender/internal/render/gate"
	"github.com/edgecomet/pdfrender/internal/render/metrics"
	"github.com/edgecomet/pdfrender/internal/render/orchestrator"
	"github.com/edgecomet/pdfrender/internal/render/renderr"
	"github.com/edgecomet/pdfrender/pkg/types"
)

const (
	pathGenerate = "/generate"
	pathHealth   = "/health"

	// PDFFilename is the attachment name of every generated document.
	PDFFilename = "output.pdf"

	timeoutMessage = "Request timed out"
	healthTimeout  = 2 * time.Second
)

// Renderer produces PDFs.
type Renderer interface {
	Render(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// GateStats reports render slot usage.
type GateStats interface {
	Stats() gate.Stats
}

// BrowserInfo reports the connected browser.
type BrowserInfo interface {
	Version(ctx context.Context) (controlplane.BrowserVersion, error)
}

// Handlers serves the PDF API.
type Handlers struct {
	renderer Renderer
	gate     GateStats
	browser  BrowserInfo
	metrics  *metrics.MetricsCollector
	logger   *zap.Logger
}

func NewHandlers(renderer Renderer, gate GateStats, browser BrowserInfo, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) *Handlers {
	return &Handlers{
		renderer: renderer,
		gate:     gate,
		browser:  browser,
		metrics:  metricsCollector,
		logger:   logger,
	}
}

// HandleGenerate processes POST /generate
func (h *Handlers) HandleGenerate(ctx *fasthttp.RequestCtx) {
	requestID := requestid.Generate(string(ctx.Request.Header.Peek(requestid.Header)))
	ctx.Response.Header.Set(requestid.Header, requestID)

	var req types.GenerateRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.writeError(ctx, fasthttp.StatusBadRequest, "Invalid JSON body", types.ErrorTypeInvalidRequest, requestID)
		h.metrics.RecordValidationError()
		h.logger.Warn("Invalid request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		return
	}

	if req.HTML == nil {
		h.writeError(ctx, fasthttp.StatusBadRequest, "html field is required", types.ErrorTypeInvalidRequest, requestID)
		h.metrics.RecordValidationError()
		return
	}

	h.logger.Info("Starting PDF render",
		zap.String("request_id", requestID),
		zap.Int("html_bytes", len(*req.HTML)),
		zap.String("html_hash", HTMLHash(*req.HTML)),
		zap.Bool("landscape", req.Landscape))

	start := time.Now()
	result, err := h.renderer.Render(context.Background(), orchestrator.Request{
		RequestID: requestID,
		HTML:      *req.HTML,
		Landscape: req.Landscape,
	})
	duration := time.Since(start)
	h.metrics.UpdateGate(h.gate.Stats())

	if err != nil {
		h.metrics.RecordRenderFailure(err)
		kind := renderr.KindOf(err)

		switch kind {
		case renderr.KindTimeout:
			h.writeError(ctx, fasthttp.StatusRequestTimeout, timeoutMessage, types.ErrorTypeTimeout, requestID)
		case renderr.KindResource:
			h.writeError(ctx, fasthttp.StatusServiceUnavailable, err.Error(), types.ErrorTypeResource, requestID)
		default:
			h.writeError(ctx, fasthttp.StatusInternalServerError, err.Error(), errorType(kind), requestID)
		}

		h.logger.Error("PDF render failed",
			zap.String("request_id", requestID),
			zap.String("error_kind", kind.String()),
			zap.Duration("duration", duration),
			zap.Error(err))
		return
	}

	httputil.Attachment(ctx, httputil.ContentTypePDF, PDFFilename, result.Bytes())
	h.metrics.RecordHTTPRequest(pathGenerate, "200")
	h.metrics.RecordRenderSuccess(duration.Seconds())

	h.logger.Info("PDF render successful",
		zap.String("request_id", requestID),
		zap.String("tab_id", result.TabID),
		zap.Int("pdf_bytes", result.Len()),
		zap.Duration("duration", duration))
}

// HandleHealth returns gate usage and the browser version
func (h *Handlers) HandleHealth(ctx *fasthttp.RequestCtx) {
	stats := h.gate.Stats()
	h.metrics.UpdateGate(stats)

	resp := types.HealthResponse{
		Status:   "ok",
		Capacity: stats.Capacity,
		InUse:    stats.InUse,
		Waiting:  stats.Waiting,
	}
	status := fasthttp.StatusOK

	vctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	version, err := h.browser.Version(vctx)
	if err != nil {
		resp.Status = "browser_unavailable"
		status = fasthttp.StatusServiceUnavailable
		h.logger.Warn("Health check could not reach browser", zap.Error(err))
	} else {
		resp.BrowserVersion = version.Browser
	}

	httputil.JSON(ctx, status, resp)
	h.metrics.RecordHTTPRequest(pathHealth, strconv.Itoa(status))
}

// writeError answers with plain text, or with types.ErrorResponse when the
// client accepts JSON.
func (h *Handlers) writeError(ctx *fasthttp.RequestCtx, statusCode int, message, errType, requestID string) {
	if bytes.Contains(ctx.Request.Header.Peek(fasthttp.HeaderAccept), []byte(httputil.ContentTypeJSON)) {
		httputil.JSON(ctx, statusCode, types.ErrorResponse{
			RequestID: requestID,
			Error:     message,
			ErrorType: errType,
			Timestamp: time.Now().UTC(),
		})
	} else {
		httputil.Text(ctx, statusCode, message)
	}
	h.metrics.RecordHTTPRequest(string(ctx.Path()), strconv.Itoa(statusCode))
}

func errorType(kind renderr.Kind) string {
	switch kind {
	case renderr.KindConnection:
		return types.ErrorTypeConnection
	case renderr.KindTransport:
		return types.ErrorTypeTransport
	case renderr.KindProtocol:
		return types.ErrorTypeProtocol
	case renderr.KindBrowserRender:
		return types.ErrorTypeBrowserRender
	case renderr.KindDecode:
		return types.ErrorTypeDecode
	case renderr.KindTimeout:
		return types.ErrorTypeTimeout
	case renderr.KindResource:
		return types.ErrorTypeResource
	default:
		return types.ErrorTypeInternal
	}
}

// HTMLHash fingerprints a document for log correlation.
func HTMLHash(html string) string {
	return strconv.FormatUint(xxhash.Sum64String(html), 16)
}
