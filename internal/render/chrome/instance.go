package chrome

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Reasons reported by restartReason
const (
	restartDead        = "dead"
	restartRenderCount = "render_count"
	restartMaxAge      = "max_age"
)

const livenessTimeout = 5 * time.Second

// NewChromeInstance launches a browser and warms it up. A failed warmup is logged, not fatal.
func NewChromeInstance(id int, config *Config, logger *zap.Logger) (*ChromeInstance, error) {
	ci := &ChromeInstance{ID: id, logger: logger}
	if err := ci.launch(config); err != nil {
		return nil, fmt.Errorf("failed to create Chrome instance %d: %w", id, err)
	}
	return ci, nil
}

// allocatorOptions are the process flags for a headless capture browser
func allocatorOptions(config *Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("mute-audio", true),
		// stable pixels across instances
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("font-render-hinting", "none"),
		chromedp.Flag("force-color-profile", "srgb"),
	)
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	return opts
}

// launch starts a fresh browser process, resets counters and runs the warmup navigation
func (ci *ChromeInstance) launch(config *Config) error {
	ci.allocatorCtx, ci.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(config)...)
	ci.ctx, ci.cancel = chromedp.NewContext(ci.allocatorCtx)

	if err := chromedp.Run(ci.ctx); err != nil {
		ci.cancel()
		ci.allocatorCancel()
		ci.status.Store(int32(ChromeStatusDead))
		return fmt.Errorf("failed to start Chrome: %w", err)
	}

	now := time.Now().UTC()
	ci.createdAt = now
	ci.requestsDone.Store(0)
	ci.status.Store(int32(ChromeStatusIdle))

	if product, err := ci.probe(ci.ctx); err == nil {
		ci.browserVersion = product
	} else {
		ci.logger.Warn("Failed to read browser version", zap.Int("instance_id", ci.ID), zap.Error(err))
	}

	if err := ci.warmup(config); err != nil {
		ci.logger.Warn("Chrome instance warmup failed", zap.Int("instance_id", ci.ID), zap.Error(err))
	}

	ci.logger.Info("Chrome instance started",
		zap.Int("instance_id", ci.ID),
		zap.String("browser", ci.browserVersion))
	return nil
}

func (ci *ChromeInstance) warmup(config *Config) error {
	ctx, cancel := context.WithTimeout(ci.ctx, config.WarmupTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(config.WarmupURL)); err != nil {
		return fmt.Errorf("warmup navigation to %s failed: %w", config.WarmupURL, err)
	}
	return nil
}

// probe asks the browser for its product string
func (ci *ChromeInstance) probe(ctx context.Context) (string, error) {
	var product string
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		_, product, _, _, _, err = browser.GetVersion().Do(ctx)
		return err
	}))
	return product, err
}

// IsAlive reports whether the browser answers a version probe
func (ci *ChromeInstance) IsAlive() bool {
	if ci.GetStatus() == ChromeStatusDead || ci.browserGone() {
		return false
	}
	ctx, cancel := context.WithTimeout(ci.ctx, livenessTimeout)
	defer cancel()
	_, err := ci.probe(ctx)
	return err == nil
}

// browserGone reports whether the browser process behind this instance has exited
func (ci *ChromeInstance) browserGone() bool {
	return ci.ctx == nil || ci.ctx.Err() != nil
}

// Age returns how long the current browser process has been running
func (ci *ChromeInstance) Age() time.Duration {
	return time.Since(ci.createdAt)
}

// restartReason returns why the instance must be relaunched before its next render, or ""
func (ci *ChromeInstance) restartReason(config *Config) string {
	if !ci.IsAlive() {
		return restartDead
	}
	return ci.policyReason(config)
}

// policyReason applies the render count and age limits
func (ci *ChromeInstance) policyReason(config *Config) string {
	switch {
	case int(ci.requestsDone.Load()) >= config.RestartAfterCount:
		return restartRenderCount
	case ci.Age() >= config.RestartAfterTime:
		return restartMaxAge
	}
	return ""
}

// Restart terminates the browser and launches a new one in its place
func (ci *ChromeInstance) Restart(config *Config) error {
	ci.logger.Info("Restarting Chrome instance",
		zap.String("request_id", ci.currentRequestID),
		zap.Int("instance_id", ci.ID),
		zap.Int32("requests_done", ci.GetRequestsDone()),
		zap.Duration("age", ci.Age()))

	ci.Terminate()
	if err := ci.launch(config); err != nil {
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}
	return nil
}

// Terminate kills the browser process. The instance stays dead until Restart.
func (ci *ChromeInstance) Terminate() {
	ci.status.Store(int32(ChromeStatusDead))
	if ci.cancel != nil {
		ci.cancel()
	}
	if ci.allocatorCancel != nil {
		ci.allocatorCancel()
	}
}

// markUsed counts a finished render
func (ci *ChromeInstance) markUsed() {
	ci.requestsDone.Add(1)
}

// NewTab opens a tab context for one capture
func (ci *ChromeInstance) NewTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(ci.ctx)
}

func (ci *ChromeInstance) GetStatus() ChromeStatus {
	return ChromeStatus(ci.status.Load())
}

func (ci *ChromeInstance) SetStatus(status ChromeStatus) {
	ci.status.Store(int32(status))
}

func (ci *ChromeInstance) GetRequestsDone() int32 {
	return ci.requestsDone.Load()
}

// GetBrowserVersion returns the product string, e.g. "HeadlessChrome/120.0.6099.109"
func (ci *ChromeInstance) GetBrowserVersion() string {
	return ci.browserVersion
}
