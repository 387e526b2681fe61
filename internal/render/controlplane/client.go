// Package controlplane talks to the browser's DevTools HTTP endpoint to
// create and destroy tabs.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/render/renderr"
)

const (
	// DefaultRequestTimeout bounds control plane calls made without a context deadline.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultMaxConns is the connection pool size when WithMaxConns is not used.
	DefaultMaxConns = 64

	// connHeadroom covers the sweeper and health checks on top of one
	// in-flight call per render session.
	connHeadroom = 4
)

// MaxConnsFor sizes the connection pool for a gate of the given capacity.
// Each session has at most one control plane call in flight.
func MaxConnsFor(capacity int) int {
	return capacity + connHeadroom
}

// Option configures a Client.
type Option func(*fasthttp.Client)

// WithMaxConns sets the connection pool size. Calls beyond it wait for a free
// connection until their deadline.
func WithMaxConns(n int) Option {
	return func(hc *fasthttp.Client) {
		if n > 0 {
			hc.MaxConnsPerHost = n
		}
	}
}

// Tab is a browser tab as reported by /json/new.
type Tab struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// BrowserVersion is the payload of /json/version.
type BrowserVersion struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// CloseOutcome records a best-effort tab close. Err is informational only.
type CloseOutcome struct {
	TabID      string
	StatusCode int
	Err        error
	Duration   time.Duration
}

// OK reports whether the browser acknowledged the close.
func (o CloseOutcome) OK() bool {
	return o.Err == nil
}

// Gone reports whether the tab no longer exists, either because the close
// succeeded or because the browser does not know the id.
func (o CloseOutcome) Gone() bool {
	return o.OK() || o.StatusCode == fasthttp.StatusNotFound
}

// Client is safe for concurrent use; connections are pooled by fasthttp.
type Client struct {
	endpoint string
	http     *fasthttp.Client
	logger   *zap.Logger
}

// NewClient creates a client for the control endpoint, e.g. "http://127.0.0.1:9222".
func NewClient(endpoint string, logger *zap.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid browser endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("browser endpoint must be http or https, got %q", endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("browser endpoint has no host: %q", endpoint)
	}

	hc := &fasthttp.Client{
		Name:                "pdf-service",
		MaxConnsPerHost:     DefaultMaxConns,
		MaxConnWaitTimeout:  DefaultRequestTimeout,
		MaxIdleConnDuration: 30 * time.Second,
		ReadTimeout:         DefaultRequestTimeout,
		WriteTimeout:        DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(hc)
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     hc,
		logger:   logger,
	}, nil
}

// Endpoint returns the control endpoint base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CreateTab opens a new blank tab.
func (c *Client) CreateTab(ctx context.Context) (Tab, error) {
	status, body, err := c.do(ctx, fasthttp.MethodPut, "/json/new")
	if err != nil {
		return Tab{}, renderr.New(renderr.KindConnection, "create tab", err)
	}
	if status < 200 || status > 299 {
		return Tab{}, renderr.New(renderr.KindConnection, "create tab",
			fmt.Errorf("unexpected status %d: %s", status, truncate(body, 200)))
	}

	var tab Tab
	if err := json.Unmarshal(body, &tab); err != nil {
		return Tab{}, renderr.New(renderr.KindConnection, "create tab", fmt.Errorf("invalid tab response: %w", err))
	}
	if tab.WebSocketDebuggerURL == "" {
		return Tab{}, renderr.New(renderr.KindConnection, "create tab", fmt.Errorf("tab response has no webSocketDebuggerUrl"))
	}
	if tab.ID == "" {
		return Tab{}, renderr.New(renderr.KindConnection, "create tab", fmt.Errorf("tab response has no id"))
	}

	c.logger.Debug("Tab created",
		zap.String("tab_id", tab.ID),
		zap.String("ws_url", tab.WebSocketDebuggerURL))

	return tab, nil
}

// CloseTab asks the browser to close the tab. It never fails the caller:
// the outcome is logged and returned for the caller to record.
func (c *Client) CloseTab(ctx context.Context, tabID string) CloseOutcome {
	start := time.Now()
	outcome := CloseOutcome{TabID: tabID}

	status, body, err := c.do(ctx, fasthttp.MethodGet, "/json/close/"+url.PathEscape(tabID))
	outcome.StatusCode = status
	switch {
	case err != nil:
		outcome.Err = err
	case status < 200 || status > 299:
		outcome.Err = fmt.Errorf("unexpected status %d: %s", status, truncate(body, 200))
	}
	outcome.Duration = time.Since(start)

	if outcome.Err != nil {
		c.logger.Warn("Failed to close tab",
			zap.String("tab_id", tabID),
			zap.Duration("duration", outcome.Duration),
			zap.Error(outcome.Err))
	} else {
		c.logger.Debug("Tab closed",
			zap.String("tab_id", tabID),
			zap.Duration("duration", outcome.Duration))
	}
	return outcome
}

// Version returns the browser version information.
func (c *Client) Version(ctx context.Context) (BrowserVersion, error) {
	status, body, err := c.do(ctx, fasthttp.MethodGet, "/json/version")
	if err != nil {
		return BrowserVersion{}, renderr.New(renderr.KindConnection, "browser version", err)
	}
	if status != fasthttp.StatusOK {
		return BrowserVersion{}, renderr.New(renderr.KindConnection, "browser version",
			fmt.Errorf("unexpected status %d", status))
	}

	var v BrowserVersion
	if err := json.Unmarshal(body, &v); err != nil {
		return BrowserVersion{}, renderr.New(renderr.KindConnection, "browser version", fmt.Errorf("invalid version response: %w", err))
	}
	return v, nil
}

// do performs one request bounded by the ctx deadline (or DefaultRequestTimeout)
// and returns a copy of the response body.
func (c *Client) do(ctx context.Context, method, path string) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultRequestTimeout)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.endpoint + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	body := append([]byte(nil), resp.Body()...)
	return resp.StatusCode(), body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
