package metricsserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/common/configtypes"
)

// MetricsHandler interface for metrics collectors
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Server is a running metrics listener.
type Server struct {
	server   *fasthttp.Server
	listener net.Listener
	logger   *zap.Logger
}

// Start binds the metrics listener and serves it in the background.
// Returns nil if metrics are disabled. The listen address is bound before
// Start returns so a port conflict fails startup.
func Start(cfg configtypes.MetricsConfig, handler MetricsHandler, logger *zap.Logger) (*Server, error) {
	if !cfg.Enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics listener %s: %w", cfg.Listen, err)
	}

	s := &Server{
		server: &fasthttp.Server{
			Handler:            createMetricsHandler(cfg.Path, handler),
			Name:               "PDFService-Metrics",
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			MaxRequestBodySize: 1 * 1024,
			TCPKeepalive:       true,
			TCPKeepalivePeriod: 30 * time.Second,
			MaxRequestsPerConn: 1000,
			Concurrency:        100,
		},
		listener: ln,
		logger:   logger,
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", ln.Addr().String()),
			zap.String("path", cfg.Path))

		if err := s.server.Serve(ln); err != nil {
			logger.Error("Metrics server stopped",
				zap.String("listen", cfg.Listen),
				zap.Error(err))
		}
	}()

	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for open ones, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.server.ShutdownWithContext(ctx)
}

func createMetricsHandler(metricsPath string, metrics MetricsHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == metricsPath {
			metrics.ServeHTTP(ctx)
			return
		}

		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("Not Found")
	}
}
