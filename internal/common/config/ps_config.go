package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/pdfrender/internal/common/configtypes"
	"github.com/edgecomet/pdfrender/internal/common/yamlutil"
	"github.com/edgecomet/pdfrender/pkg/types"
)

// PSConfig represents PDF Service configuration
type PSConfig struct {
	Server  PSServerConfig            `yaml:"server"`
	Browser BrowserConfig             `yaml:"browser"`
	Render  PSRenderConfig            `yaml:"render"`
	Ledger  LedgerConfig              `yaml:"ledger"`
	Redis   configtypes.RedisConfig   `yaml:"redis"`
	Log     configtypes.LogConfig     `yaml:"log"`
	Metrics configtypes.MetricsConfig `yaml:"metrics"`
}

// PSServerConfig represents the HTTP ingress configuration
type PSServerConfig struct {
	ID          string `yaml:"id"`
	Listen      string `yaml:"listen"`
	MaxBodySize int    `yaml:"max_body_size"` // bytes
}

// BrowserConfig points the service at a DevTools endpoint, or launches one
type BrowserConfig struct {
	Endpoint string       `yaml:"endpoint"` // e.g. http://127.0.0.1:9222
	Launch   LaunchConfig `yaml:"launch"`
}

// LaunchConfig controls the managed browser process
type LaunchConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Bin          string `yaml:"bin"`
	Headless     *bool  `yaml:"headless"`
	NoSandbox    bool   `yaml:"no_sandbox"`
	AutoDownload bool   `yaml:"auto_download"`
}

// IsHeadless defaults to true when unset
func (l LaunchConfig) IsHeadless() bool {
	return l.Headless == nil || *l.Headless
}

// PSRenderConfig represents the render session limits
type PSRenderConfig struct {
	Concurrency  string         `yaml:"concurrency"`   // "auto" or positive integer
	Timeout      types.Duration `yaml:"timeout"`       // whole-session deadline
	CloseTimeout types.Duration `yaml:"close_timeout"` // tab close during cleanup
}

// LedgerConfig controls tracking and reclaiming of leaked tabs
type LedgerConfig struct {
	Enabled       bool           `yaml:"enabled"`
	SweepInterval types.Duration `yaml:"sweep_interval"`
	Grace         types.Duration `yaml:"grace"`
}

const (
	// SafetyMargin is added to the render deadline for the FastHTTP server
	// timeouts so connections outlive the slowest render.
	SafetyMargin = 5 * time.Second

	// ConcurrencyAuto sizes the render gate from system memory.
	ConcurrencyAuto = "auto"

	DefaultMaxBodySize   = 10 * 1024 * 1024
	DefaultConcurrency   = "4"
	DefaultTimeout       = 10 * time.Second
	DefaultCloseTimeout  = 2 * time.Second
	DefaultSweepInterval = 30 * time.Second
	DefaultGrace         = time.Minute
	DefaultMetricsPath   = "/metrics"
	DefaultNamespace     = "pdfrender"
)

var namespaceRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CalculateServerTimeout returns the FastHTTP server timeout
// Server timeout = timeout + close_timeout + SafetyMargin
func (r *PSRenderConfig) CalculateServerTimeout() time.Duration {
	return time.Duration(r.Timeout) + time.Duration(r.CloseTimeout) + SafetyMargin
}

// PSConfigManager handles PS configuration
type PSConfigManager struct {
	config     *PSConfig
	configPath string
	logger     *zap.Logger
}

// NewPSConfigManager loads and validates the config at configPath
func NewPSConfigManager(configPath string, logger *zap.Logger) (*PSConfigManager, error) {
	cfg, err := LoadPSConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("Configuration loaded", zap.String("path", configPath))

	return &PSConfigManager{
		config:     cfg,
		configPath: configPath,
		logger:     logger,
	}, nil
}

// GetConfig returns the current configuration
func (cm *PSConfigManager) GetConfig() *PSConfig {
	return cm.config
}

// ConfigPath returns the file the configuration was loaded from
func (cm *PSConfigManager) ConfigPath() string {
	return cm.configPath
}

// applyDefaults applies default values to configuration fields
func (cfg *PSConfig) applyDefaults() {
	// If both outputs are disabled (zero values), enable console by default
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}

	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}

	if cfg.Render.Concurrency == "" {
		cfg.Render.Concurrency = DefaultConcurrency
	}
	if cfg.Render.Timeout == 0 {
		cfg.Render.Timeout = types.Duration(DefaultTimeout)
	}
	if cfg.Render.CloseTimeout == 0 {
		cfg.Render.CloseTimeout = types.Duration(DefaultCloseTimeout)
	}

	if cfg.Ledger.SweepInterval == 0 {
		cfg.Ledger.SweepInterval = types.Duration(DefaultSweepInterval)
	}
	if cfg.Ledger.Grace == 0 {
		cfg.Ledger.Grace = types.Duration(DefaultGrace)
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultNamespace
	}
}

// Validate checks configuration validity
func (cfg *PSConfig) Validate() error {
	// Server validation
	if cfg.Server.ID == "" {
		return fmt.Errorf("server.id is required")
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	} else if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}

	if cfg.Server.MaxBodySize < 0 {
		return fmt.Errorf("server.max_body_size must be positive")
	}

	// Browser validation
	if !cfg.Browser.Launch.Enabled {
		if cfg.Browser.Endpoint == "" {
			return fmt.Errorf("browser.endpoint is required unless browser.launch.enabled")
		}
		u, err := url.Parse(cfg.Browser.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid browser.endpoint: %s (must be http://host:port)", cfg.Browser.Endpoint)
		}
	}

	// Render validation
	if !validConcurrency(cfg.Render.Concurrency) {
		return fmt.Errorf("render.concurrency must be 'auto' or positive integer, got %q", cfg.Render.Concurrency)
	}

	if cfg.Render.Timeout <= 0 {
		return fmt.Errorf("render.timeout must be positive")
	}

	if cfg.Render.CloseTimeout <= 0 {
		return fmt.Errorf("render.close_timeout must be positive")
	}

	// Ledger validation
	if cfg.Ledger.Enabled {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when ledger enabled")
		}
		if cfg.Ledger.SweepInterval <= 0 {
			return fmt.Errorf("ledger.sweep_interval must be positive")
		}
		if cfg.Ledger.Grace < cfg.Render.Timeout+cfg.Render.CloseTimeout {
			return fmt.Errorf("ledger.grace (%s) must be at least render.timeout + render.close_timeout (%s)",
				cfg.Ledger.Grace, cfg.Render.Timeout+cfg.Render.CloseTimeout)
		}
	}

	// Log validation
	if !slices.Contains(configtypes.ValidLogLevels, cfg.Log.Level) {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, error, dpanic, panic, or fatal)", cfg.Log.Level)
	}

	if cfg.Log.Console.Enabled && cfg.Log.Console.Format != configtypes.LogFormatJSON && cfg.Log.Console.Format != configtypes.LogFormatConsole {
		return fmt.Errorf("invalid log.console.format: %s (must be json or console)", cfg.Log.Console.Format)
	}

	if cfg.Log.File.Enabled {
		if cfg.Log.File.Path == "" {
			return fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}

		if cfg.Log.File.Format != configtypes.LogFormatJSON && cfg.Log.File.Format != configtypes.LogFormatText {
			return fmt.Errorf("invalid log.file.format: %s (must be json or text)", cfg.Log.File.Format)
		}

		if cfg.Log.File.Rotation.MaxSize < 0 {
			return fmt.Errorf("log.file.rotation.max_size must be >= 0, got %d", cfg.Log.File.Rotation.MaxSize)
		}
		if cfg.Log.File.Rotation.MaxAge < 0 {
			return fmt.Errorf("log.file.rotation.max_age must be >= 0, got %d", cfg.Log.File.Rotation.MaxAge)
		}
		if cfg.Log.File.Rotation.MaxBackups < 0 {
			return fmt.Errorf("log.file.rotation.max_backups must be >= 0, got %d", cfg.Log.File.Rotation.MaxBackups)
		}
	}

	// Metrics validation
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics enabled")
		} else if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}

		if configtypes.SamePort(cfg.Metrics.Listen, cfg.Server.Listen) {
			return fmt.Errorf("metrics.listen (%s) must use a different port than server.listen (%s)", cfg.Metrics.Listen, cfg.Server.Listen)
		}
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", cfg.Metrics.Path)
	}

	if !namespaceRe.MatchString(cfg.Metrics.Namespace) {
		return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", cfg.Metrics.Namespace)
	}

	return nil
}

// validConcurrency accepts "auto" or a positive integer
func validConcurrency(v string) bool {
	if v == ConcurrencyAuto {
		return true
	}
	n, err := strconv.Atoi(v)
	return err == nil && n > 0
}

// LoadPSConfig reads, defaults and validates the configuration at configPath
func LoadPSConfig(configPath string) (*PSConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg PSConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// GetConfigPath resolves the config file path
func GetConfigPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("config file does not exist: %s", absPath)
	}

	return absPath, nil
}
