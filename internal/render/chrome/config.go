package chrome

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/edgecomet/webshot/internal/common/config"
)

// Config holds the configuration for Chrome pool and instances
type Config struct {
	// Pool configuration
	PoolSize        string        // "auto" or integer string
	WarmupURL       string        // URL to navigate during warmup
	WarmupTimeout   time.Duration // Warmup navigation timeout
	ShutdownTimeout time.Duration // Graceful shutdown timeout

	// Restart policies
	RestartAfterCount int           // Restart after N renders
	RestartAfterTime  time.Duration // Restart after duration

	// Capture limits
	MaxImageBytes int64 // 0 disables the check
	MaxPageHeight int   // full-page captures are clipped to this height
	UserAgent     string
}

// NewConfig builds the pool configuration from the service configuration
func NewConfig(cfg *config.WSConfig) *Config {
	return &Config{
		PoolSize:          cfg.Chrome.PoolSize,
		WarmupURL:         cfg.Chrome.Warmup.URL,
		WarmupTimeout:     cfg.Chrome.Warmup.Timeout.ToDuration(),
		ShutdownTimeout:   cfg.Chrome.Render.MaxTimeout.ToDuration(),
		RestartAfterCount: cfg.Chrome.Restart.AfterCount,
		RestartAfterTime:  cfg.Chrome.Restart.AfterTime.ToDuration(),
		MaxImageBytes:     cfg.Shot.MaxImageBytes,
		MaxPageHeight:     config.MaxHeight,
		UserAgent:         cfg.Shot.UserAgent,
	}
}

// DefaultConfig is used in tests to avoid constructing full Config structs
func DefaultConfig() *Config {
	return &Config{
		PoolSize:          "auto",
		WarmupURL:         "about:blank",
		WarmupTimeout:     10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RestartAfterCount: 100,
		RestartAfterTime:  60 * time.Minute,
		MaxImageBytes:     20 << 20,
		MaxPageHeight:     config.MaxHeight,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate pool size (must be "auto" or positive integer string)
	if c.PoolSize != "auto" {
		size, err := strconv.Atoi(c.PoolSize)
		if err != nil {
			return fmt.Errorf("pool size must be 'auto' or valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("pool size must be positive")
		}
	}

	if c.RestartAfterCount <= 0 {
		return fmt.Errorf("restart after count must be positive")
	}

	if c.RestartAfterTime <= 0 {
		return fmt.Errorf("restart after time must be positive")
	}

	if c.WarmupURL == "" {
		return fmt.Errorf("warmup URL cannot be empty")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	if c.MaxImageBytes < 0 {
		return fmt.Errorf("max image bytes must not be negative")
	}

	if c.MaxPageHeight <= 0 {
		return fmt.Errorf("max page height must be positive")
	}

	return nil
}

// CalculatePoolSize determines the optimal pool size based on available RAM
// Formula: (Available RAM - 2GB) / 500MB per Chrome
func (c *Config) CalculatePoolSize() int {
	if c.PoolSize == "auto" {
		return c.calculateAutoPoolSize()
	}

	size, err := strconv.Atoi(c.PoolSize)
	if err != nil || size <= 0 {
		// Fallback to auto if invalid
		return c.calculateAutoPoolSize()
	}

	return size
}

// calculateAutoPoolSize calculates pool size based on available RAM
func (c *Config) calculateAutoPoolSize() int {
	v, err := mem.VirtualMemory()
	var totalRAMBytes int64

	if err != nil {
		// Conservative estimate if system memory cannot be read
		totalRAMBytes = int64(8 * 1024 * 1024 * 1024)
	} else {
		totalRAMBytes = int64(v.Total)
	}

	// Reserve 2GB for system and other processes
	reservedBytes := int64(2 * 1024 * 1024 * 1024)
	availableBytes := totalRAMBytes - reservedBytes

	// Each Chrome instance uses approximately 500MB
	chromeInstanceBytes := int64(500 * 1024 * 1024)

	poolSize := int(availableBytes / chromeInstanceBytes)

	if poolSize < 2 {
		poolSize = 2
	}
	if poolSize > 50 {
		poolSize = 50
	}

	return poolSize
}
