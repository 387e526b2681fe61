package service

import (
	"time"

	"github.com/valyala/fasthttp"
)

// ServerConfig sizes the ingress server.
type ServerConfig struct {
	Name        string
	MaxBodySize int
	// Timeout bounds reads, writes and idle connections; it must exceed the
	// render deadline.
	Timeout time.Duration
}

// CreateHTTPHandler creates the main HTTP request handler with routing
func (h *Handlers) CreateHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())

		switch {
		case ctx.IsPost() && path == pathGenerate:
			h.HandleGenerate(ctx)
		case ctx.IsGet() && path == pathHealth:
			h.HandleHealth(ctx)
		case path == pathGenerate || path == pathHealth:
			ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
			ctx.SetBodyString("Method Not Allowed")
			h.metrics.RecordHTTPRequest(path, "405")
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
			h.metrics.RecordHTTPRequest("other", "404")
		}
	}
}

// NewServer builds the fasthttp server for the handlers. Bodies over
// MaxBodySize are rejected by fasthttp with 413 before reaching a handler.
func NewServer(cfg ServerConfig, h *Handlers) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:            h.CreateHTTPHandler(),
		Name:               cfg.Name,
		ReadTimeout:        cfg.Timeout,
		WriteTimeout:       cfg.Timeout,
		IdleTimeout:        cfg.Timeout,
		MaxRequestBodySize: cfg.MaxBodySize,
	}
}
