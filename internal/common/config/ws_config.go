package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/edgecomet/webshot/internal/common/configtypes"
	"github.com/edgecomet/webshot/internal/common/yamlutil"
	"github.com/edgecomet/webshot/pkg/types"
)

var metricsNamespaceRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WSConfig represents webshot service configuration
type WSConfig struct {
	Server  ServerConfig              `yaml:"server"`
	Redis   configtypes.RedisConfig   `yaml:"redis"`
	Chrome  ChromeYAMLConfig          `yaml:"chrome"`
	Shot    ShotConfig                `yaml:"shot"`
	Cache   CacheConfig               `yaml:"cache"`
	Log     configtypes.LogConfig     `yaml:"log"`
	Metrics configtypes.MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds the public listener and the identity the server presents
type ServerConfig struct {
	ID             string `yaml:"id"`
	Listen         string `yaml:"listen"`
	BaseURL        string `yaml:"base_url,omitempty"`
	BaseDir        string `yaml:"base_dir"`
	Signature      string `yaml:"signature,omitempty"`
	ETagSeed       string `yaml:"etag_seed,omitempty"`
	FastCGIListen  string `yaml:"fastcgi_listen,omitempty"`
	SSRFProtection *bool  `yaml:"ssrf_protection,omitempty"` // Block private IP targets (default: true)
}

// IsSSRFProtectionEnabled returns the effective SSRF setting
func (s *ServerConfig) IsSSRFProtectionEnabled() bool {
	return s.SSRFProtection == nil || *s.SSRFProtection
}

// ChromeYAMLConfig represents Chrome configuration for YAML
type ChromeYAMLConfig struct {
	PoolSize string        `yaml:"pool_size"`
	Warmup   WarmupConfig  `yaml:"warmup"`
	Restart  RestartConfig `yaml:"restart"`
	Render   RenderConfig  `yaml:"render"`
}

// WarmupConfig represents Chrome warmup configuration
type WarmupConfig struct {
	URL     string         `yaml:"url"`
	Timeout types.Duration `yaml:"timeout"`
}

// RestartConfig represents Chrome restart policy configuration
type RestartConfig struct {
	AfterCount int            `yaml:"after_count"`
	AfterTime  types.Duration `yaml:"after_time"`
}

// RenderConfig bounds how long a single render may take
type RenderConfig struct {
	MaxTimeout     types.Duration `yaml:"max_timeout"`     // hard cap, cancels stuck renders
	DefaultTimeout types.Duration `yaml:"default_timeout"` // lifecycle wait when the request gives none
	DefaultWaitFor string         `yaml:"default_wait_for"`
}

// ShotConfig holds defaults applied to request options the client leaves out
type ShotConfig struct {
	DefaultWidth   int    `yaml:"default_width"`
	DefaultHeight  int    `yaml:"default_height"`
	DefaultFormat  string `yaml:"default_format"`
	DefaultQuality int    `yaml:"default_quality"`
	MaxImageBytes  int64  `yaml:"max_image_bytes"`
	UserAgent      string `yaml:"user_agent,omitempty"`
}

// CacheConfig configures both cache tiers
type CacheConfig struct {
	Enabled       *bool                     `yaml:"enabled,omitempty"`
	TTL           types.Duration            `yaml:"ttl"`
	MemoryEntries int                       `yaml:"memory_entries"`
	Compression   string                    `yaml:"compression,omitempty"` // none, snappy, lz4
	Cleanup       configtypes.CleanupConfig `yaml:"cleanup"`
}

// IsEnabled returns the effective cache setting (default: true)
func (c *CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

const (
	// SafetyMargin is the buffer added to max_timeout for server timeout calculation
	// so fasthttp does not close connections before a render completes.
	SafetyMargin = 10 * time.Second

	defaultListen            = ":8080"
	defaultBaseDir           = "./data/shots"
	defaultWarmupURL         = "about:blank"
	defaultWarmupTimeout     = 10 * time.Second
	defaultRestartAfterCount = 100
	defaultRestartAfterTime  = 60 * time.Minute
	defaultMaxTimeout        = 30 * time.Second
	defaultRenderTimeout     = 15 * time.Second

	defaultWidth         = 1280
	defaultHeight        = 800
	defaultQuality       = 80
	defaultMaxImageBytes = 20 << 20

	defaultCacheTTL        = time.Hour
	defaultMemoryEntries   = 256
	defaultCleanupInterval = 5 * time.Minute
	defaultCleanupMargin   = time.Minute
)

// Option limits enforced by the request receiver
const (
	MinWidth   = 16
	MaxWidth   = 4096
	MinHeight  = 16
	MaxHeight  = 16384
	MinQuality = 1
	MaxQuality = 100
)

// CalculateServerTimeout returns the fasthttp server timeout: max_timeout + SafetyMargin
func (r *RenderConfig) CalculateServerTimeout() time.Duration {
	return time.Duration(r.MaxTimeout) + SafetyMargin
}

// applyDefaults applies default values to configuration fields
func (cfg *WSConfig) applyDefaults() {
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

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaultListen
	}
	if cfg.Server.BaseDir == "" {
		cfg.Server.BaseDir = defaultBaseDir
	}

	if cfg.Chrome.PoolSize == "" {
		cfg.Chrome.PoolSize = "auto"
	}
	if cfg.Chrome.Warmup.URL == "" {
		cfg.Chrome.Warmup.URL = defaultWarmupURL
	}
	if cfg.Chrome.Warmup.Timeout == 0 {
		cfg.Chrome.Warmup.Timeout = types.Duration(defaultWarmupTimeout)
	}
	if cfg.Chrome.Restart.AfterCount == 0 {
		cfg.Chrome.Restart.AfterCount = defaultRestartAfterCount
	}
	if cfg.Chrome.Restart.AfterTime == 0 {
		cfg.Chrome.Restart.AfterTime = types.Duration(defaultRestartAfterTime)
	}
	if cfg.Chrome.Render.MaxTimeout == 0 {
		cfg.Chrome.Render.MaxTimeout = types.Duration(defaultMaxTimeout)
	}
	if cfg.Chrome.Render.DefaultTimeout == 0 {
		cfg.Chrome.Render.DefaultTimeout = types.Duration(defaultRenderTimeout)
	}
	if cfg.Chrome.Render.DefaultWaitFor == "" {
		cfg.Chrome.Render.DefaultWaitFor = types.WaitForLoad
	}

	if cfg.Shot.DefaultWidth == 0 {
		cfg.Shot.DefaultWidth = defaultWidth
	}
	if cfg.Shot.DefaultHeight == 0 {
		cfg.Shot.DefaultHeight = defaultHeight
	}
	if cfg.Shot.DefaultFormat == "" {
		cfg.Shot.DefaultFormat = types.FormatPNG
	}
	if cfg.Shot.DefaultQuality == 0 {
		cfg.Shot.DefaultQuality = defaultQuality
	}
	if cfg.Shot.MaxImageBytes == 0 {
		cfg.Shot.MaxImageBytes = defaultMaxImageBytes
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = types.Duration(defaultCacheTTL)
	}
	if cfg.Cache.MemoryEntries == 0 {
		cfg.Cache.MemoryEntries = defaultMemoryEntries
	}
	if cfg.Cache.Compression == "" {
		cfg.Cache.Compression = types.CompressionSnappy
	}
	if cfg.Cache.Cleanup.Interval == 0 {
		cfg.Cache.Cleanup.Interval = types.Duration(defaultCleanupInterval)
	}
	if cfg.Cache.Cleanup.SafetyMargin == 0 {
		cfg.Cache.Cleanup.SafetyMargin = types.Duration(defaultCleanupMargin)
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "webshot"
	}
}

// Validate checks configuration validity
func (cfg *WSConfig) Validate() error {
	if err := cfg.validateServer(); err != nil {
		return err
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if err := cfg.validateChrome(); err != nil {
		return err
	}
	if err := cfg.validateShot(); err != nil {
		return err
	}
	if err := cfg.validateCache(); err != nil {
		return err
	}
	if err := cfg.validateLog(); err != nil {
		return err
	}
	return cfg.validateMetrics()
}

func (cfg *WSConfig) validateServer() error {
	if cfg.Server.ID == "" {
		return fmt.Errorf("server.id is required")
	}
	if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}
	if cfg.Server.FastCGIListen != "" {
		if err := configtypes.ValidateListenAddress(cfg.Server.FastCGIListen); err != nil {
			return fmt.Errorf("invalid server.fastcgi_listen: %w", err)
		}
		if configtypes.SamePort(cfg.Server.FastCGIListen, cfg.Server.Listen) {
			return fmt.Errorf("server.fastcgi_listen must differ from server.listen")
		}
	}
	if cfg.Server.BaseURL != "" && !strings.HasPrefix(cfg.Server.BaseURL, "http://") && !strings.HasPrefix(cfg.Server.BaseURL, "https://") {
		return fmt.Errorf("invalid server.base_url: %s (must start with http:// or https://)", cfg.Server.BaseURL)
	}
	return nil
}

func (cfg *WSConfig) validateChrome() error {
	if cfg.Chrome.PoolSize != "auto" {
		size, err := strconv.Atoi(cfg.Chrome.PoolSize)
		if err != nil || size <= 0 {
			return fmt.Errorf("chrome.pool_size must be 'auto' or positive integer")
		}
	}
	if cfg.Chrome.Warmup.Timeout <= 0 {
		return fmt.Errorf("chrome.warmup.timeout must be positive")
	}
	if cfg.Chrome.Restart.AfterCount <= 0 {
		return fmt.Errorf("chrome.restart.after_count must be positive")
	}
	if cfg.Chrome.Restart.AfterTime <= 0 {
		return fmt.Errorf("chrome.restart.after_time must be positive")
	}
	if cfg.Chrome.Render.MaxTimeout <= 0 {
		return fmt.Errorf("chrome.render.max_timeout must be positive")
	}
	if cfg.Chrome.Render.DefaultTimeout <= 0 {
		return fmt.Errorf("chrome.render.default_timeout must be positive")
	}
	if cfg.Chrome.Render.DefaultTimeout > cfg.Chrome.Render.MaxTimeout {
		return fmt.Errorf("chrome.render.default_timeout (%s) must not exceed max_timeout (%s)",
			cfg.Chrome.Render.DefaultTimeout, cfg.Chrome.Render.MaxTimeout)
	}
	if !types.IsValidWaitFor(cfg.Chrome.Render.DefaultWaitFor) {
		return fmt.Errorf("invalid chrome.render.default_wait_for: %s", cfg.Chrome.Render.DefaultWaitFor)
	}
	return nil
}

func (cfg *WSConfig) validateShot() error {
	s := cfg.Shot
	if s.DefaultWidth < MinWidth || s.DefaultWidth > MaxWidth {
		return fmt.Errorf("shot.default_width must be between %d and %d, got %d", MinWidth, MaxWidth, s.DefaultWidth)
	}
	if s.DefaultHeight < MinHeight || s.DefaultHeight > MaxHeight {
		return fmt.Errorf("shot.default_height must be between %d and %d, got %d", MinHeight, MaxHeight, s.DefaultHeight)
	}
	if !types.IsValidFormat(s.DefaultFormat) {
		return fmt.Errorf("invalid shot.default_format: %s (must be png, jpeg or webp)", s.DefaultFormat)
	}
	if s.DefaultQuality < MinQuality || s.DefaultQuality > MaxQuality {
		return fmt.Errorf("shot.default_quality must be between %d and %d, got %d", MinQuality, MaxQuality, s.DefaultQuality)
	}
	if s.MaxImageBytes < 0 {
		return fmt.Errorf("shot.max_image_bytes must be >= 0, got %d", s.MaxImageBytes)
	}
	return nil
}

func (cfg *WSConfig) validateCache() error {
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if cfg.Cache.MemoryEntries < 0 {
		return fmt.Errorf("cache.memory_entries must be >= 0, got %d", cfg.Cache.MemoryEntries)
	}
	switch cfg.Cache.Compression {
	case types.CompressionNone, types.CompressionSnappy, types.CompressionLZ4:
	default:
		return fmt.Errorf("invalid cache.compression: %s (must be none, snappy or lz4)", cfg.Cache.Compression)
	}
	if cfg.Cache.Cleanup.Enabled && cfg.Cache.Cleanup.Interval <= 0 {
		return fmt.Errorf("cache.cleanup.interval must be positive when cleanup is enabled")
	}
	if cfg.Cache.Cleanup.SafetyMargin < 0 {
		return fmt.Errorf("cache.cleanup.safety_margin must be >= 0")
	}
	return nil
}

func (cfg *WSConfig) validateLog() error {
	if !configtypes.IsValidLogLevel(cfg.Log.Level) {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, error, dpanic, panic, or fatal)", cfg.Log.Level)
	}

	if cfg.Log.Console.Enabled {
		switch cfg.Log.Console.Format {
		case configtypes.LogFormatJSON, configtypes.LogFormatConsole:
		default:
			return fmt.Errorf("invalid log.console.format: %s (must be json or console)", cfg.Log.Console.Format)
		}
	}

	if cfg.Log.File.Enabled {
		if cfg.Log.File.Path == "" {
			return fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}
		switch cfg.Log.File.Format {
		case configtypes.LogFormatJSON, configtypes.LogFormatText:
		default:
			return fmt.Errorf("invalid log.file.format: %s (must be json or text)", cfg.Log.File.Format)
		}

		r := cfg.Log.File.Rotation
		if r.MaxSize < 0 {
			return fmt.Errorf("log.file.rotation.max_size must be >= 0, got %d", r.MaxSize)
		}
		if r.MaxAge < 0 {
			return fmt.Errorf("log.file.rotation.max_age must be >= 0, got %d", r.MaxAge)
		}
		if r.MaxBackups < 0 {
			return fmt.Errorf("log.file.rotation.max_backups must be >= 0, got %d", r.MaxBackups)
		}
	}
	return nil
}

func (cfg *WSConfig) validateMetrics() error {
	if cfg.Metrics.Enabled {
		if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
		if configtypes.SamePort(cfg.Metrics.Listen, cfg.Server.Listen) {
			return fmt.Errorf("metrics.listen port must differ from server.listen port when metrics enabled")
		}
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", cfg.Metrics.Path)
	}
	if !metricsNamespaceRe.MatchString(cfg.Metrics.Namespace) {
		return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", cfg.Metrics.Namespace)
	}
	return nil
}

// ParseWSConfig decodes, defaults and validates a YAML document
func ParseWSConfig(data []byte) (*WSConfig, error) {
	var cfg WSConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadWSConfig loads webshot configuration from a file
func LoadWSConfig(configPath string) (*WSConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseWSConfig(data)
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
