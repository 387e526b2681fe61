package browser

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/common/config"
)

// ErrLaunchDisabled is returned by Launch when the config does not ask for a
// managed browser.
var ErrLaunchDisabled = errors.New("browser launch is disabled")

// Process is a browser started by Launch.
type Process struct {
	// Endpoint is the HTTP control endpoint, e.g. http://127.0.0.1:9222.
	Endpoint string
	// WebSocketURL is the browser-level DevTools socket.
	WebSocketURL string
	PID          int

	launcher *launcher.Launcher
	logger   *zap.Logger
	stopOnce sync.Once
}

// Launch starts a local Chrome with remote debugging enabled.
func Launch(cfg config.LaunchConfig, logger *zap.Logger) (*Process, error) {
	if !cfg.Enabled {
		return nil, ErrLaunchDisabled
	}

	bin := cfg.Bin
	if bin == "" && cfg.AutoDownload {
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("failed to download browser: %w", err)
		}
		bin = path
		logger.Info("Using downloaded browser", zap.String("bin", bin))
	}

	l := launcher.New().
		Headless(cfg.IsHeadless()).
		NoSandbox(cfg.NoSandbox).
		Set("disable-gpu").
		Set("disable-extensions").
		Set("mute-audio")
	if bin != "" {
		l = l.Bin(bin)
	}

	wsURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	endpoint, err := EndpointFromWebSocket(wsURL)
	if err != nil {
		l.Kill()
		l.Cleanup()
		return nil, err
	}

	p := &Process{
		Endpoint:     endpoint,
		WebSocketURL: wsURL,
		PID:          l.PID(),
		launcher:     l,
		logger:       logger,
	}

	logger.Info("Browser launched",
		zap.String("endpoint", endpoint),
		zap.Int("pid", p.PID),
		zap.Bool("headless", cfg.IsHeadless()))

	return p, nil
}

// Stop kills the browser and removes its profile directory.
func (p *Process) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		p.launcher.Kill()
		p.launcher.Cleanup()
		p.logger.Info("Browser stopped", zap.Int("pid", p.PID))
	})
}

// EndpointFromWebSocket maps a browser DevTools socket URL to the HTTP
// control endpoint on the same host and port.
func EndpointFromWebSocket(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid devtools url %q: %w", wsURL, err)
	}

	var scheme string
	switch u.Scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	default:
		return "", fmt.Errorf("invalid devtools url %q: unsupported scheme %q", wsURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid devtools url %q: missing host", wsURL)
	}

	return scheme + "://" + u.Host, nil
}
