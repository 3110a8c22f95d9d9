package chrome

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/edgecomet/webshot/pkg/types"
)

// lifecycleBuffer bounds lifecycle events queued between listener and waiter
const lifecycleBuffer = 128

// Capture loads req.URL in a fresh tab of this instance and returns the rasterized page.
// Cancelling ctx closes the tab; a deadline on ctx is reported as ErrHardTimeout.
func (ci *ChromeInstance) Capture(ctx context.Context, req *types.RenderRequest, config *Config) (*types.Shot, error) {
	start := time.Now()

	tabCtx, tabCancel := ci.NewTab()
	defer tabCancel()

	// Cancel tab when request context times out or is cancelled
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	shot := &types.Shot{
		RequestID: req.RequestID,
		Format:    req.Options.Format,
		Width:     req.Options.Width,
		Height:    req.Options.Height,
		ChromeID:  fmt.Sprintf("chrome-%d", ci.ID),
		Timestamp: start.UTC(),
	}

	var (
		statusMu   sync.Mutex
		statusCode int
		image      []byte
	)
	onStatus := func(code int) {
		statusMu.Lock()
		if statusCode == 0 {
			statusCode = code
		}
		statusMu.Unlock()
	}

	err := chromedp.Run(tabCtx, ci.buildTasks(req, shot, onStatus, &image, config))
	shot.RenderTime = time.Since(start)

	// Hard timeout has priority over whatever error the cancelled tab produced
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s: %v", ErrHardTimeout, shot.RenderTime.Round(time.Millisecond), ctx.Err())
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err != nil {
		if ci.browserGone() {
			ci.SetStatus(ChromeStatusDead)
			return nil, fmt.Errorf("%w: %v", ErrInstanceDead, err)
		}
		return nil, err
	}

	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrCaptureFailed)
	}

	if config.MaxImageBytes > 0 && int64(len(image)) > config.MaxImageBytes {
		ci.logger.Error("Screenshot exceeds size limit - discarding",
			zap.String("request_id", req.RequestID),
			zap.Int("instance_id", ci.ID),
			zap.String("url", req.URL),
			zap.Int("size", len(image)),
			zap.Int64("max_size", config.MaxImageBytes))
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrResponseTooLarge, len(image), config.MaxImageBytes)
	}

	statusMu.Lock()
	shot.StatusCode = statusCode
	statusMu.Unlock()
	shot.Image = image

	return shot, nil
}

// buildTasks creates the chromedp task sequence for one screenshot
func (ci *ChromeInstance) buildTasks(req *types.RenderRequest, shot *types.Shot, onStatus func(int),
	image *[]byte, config *Config) chromedp.Tasks {
	opts := req.Options
	lifecycle := make(chan *page.EventLifecycleEvent, lifecycleBuffer)

	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}

	tasks := chromedp.Tasks{
		// Listeners go in first so no event of the navigation is missed
		chromedp.ActionFunc(func(ctx context.Context) error {
			chromedp.ListenTarget(ctx, func(event interface{}) {
				switch ev := event.(type) {
				case *network.EventResponseReceived:
					if ev.Type == network.ResourceTypeDocument && ev.Response != nil {
						onStatus(int(ev.Response.Status))
					}
				case *page.EventLifecycleEvent:
					select {
					case lifecycle <- ev:
					default:
					}
				}
			})
			return nil
		}),
		network.Enable(),
		enableLifeCycle(),
		emulation.SetDeviceMetricsOverride(int64(opts.Width), int64(opts.Height), scale, false),
	}

	if opts.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(opts.UserAgent))
	}

	return append(tasks,
		ci.navigateAndWait(req, lifecycle, shot),
		chromedp.Location(&shot.FinalURL),
		captureScreenshot(opts, config.MaxPageHeight, image, shot),
	)
}

// navigateAndWait navigates to URL and waits for the requested lifecycle event.
// The wait is soft: on timeout it sets shot.TimedOut and lets the capture proceed.
func (ci *ChromeInstance) navigateAndWait(req *types.RenderRequest, lifecycle <-chan *page.EventLifecycleEvent, shot *types.Shot) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		frameID, loaderID, errorText, err := page.Navigate(req.URL).Do(ctx)
		if err != nil {
			return errors.Join(ErrNavigateFailed, err)
		}
		if errorText != "" {
			return fmt.Errorf("%w: %s", ErrNavigateFailed, errorText)
		}

		err = waitForLifecycle(ctx, lifecycle, req.Options.WaitFor, frameID, loaderID, req.Options.Timeout)
		if errors.Is(err, ErrWaitTimeout) {
			shot.TimedOut = true
			ci.logger.Debug("Navigation wait timed out, capturing anyway",
				zap.String("request_id", req.RequestID),
				zap.Int("instance_id", ci.ID),
				zap.String("url", req.URL),
				zap.Duration("timeout", req.Options.Timeout))
		} else if err != nil {
			return err
		}

		// Extra delay if requested (skip if already timed out)
		if req.Options.Delay > 0 && !shot.TimedOut {
			return sleepContext(ctx, req.Options.Delay)
		}

		return nil
	}
}

// waitForLifecycle waits for eventName on the navigation identified by frameID and loaderID.
// A non-positive timeout waits until ctx is done.
func waitForLifecycle(ctx context.Context, events <-chan *page.EventLifecycleEvent, eventName string,
	frameID cdp.FrameID, loaderID cdp.LoaderID, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case ev := <-events:
			if ev.FrameID == frameID && ev.LoaderID == loaderID && ev.Name == eventName {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			return ErrWaitTimeout
		}
	}
}

// captureScreenshot rasterizes the viewport, or the whole document when opts.FullPage is set
func captureScreenshot(opts types.ShotOptions, maxPageHeight int, out *[]byte, shot *types.Shot) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		params := page.CaptureScreenshot().
			WithFormat(screenshotFormat(opts.Format)).
			WithFromSurface(true)
		if opts.Format != types.FormatPNG {
			params = params.WithQuality(int64(opts.Quality))
		}

		if opts.FullPage {
			_, _, _, _, _, contentSize, err := page.GetLayoutMetrics().Do(ctx)
			if err != nil {
				return fmt.Errorf("%w: layout metrics: %v", ErrCaptureFailed, err)
			}
			clip := fullPageClip(contentSize.Width, contentSize.Height, opts, maxPageHeight)
			params = params.WithCaptureBeyondViewport(true).WithClip(clip)
			shot.Width = int(clip.Width)
			shot.Height = int(clip.Height)
		}

		buf, err := params.Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		*out = buf
		return nil
	}
}

// fullPageClip covers the document but never less than the viewport nor taller than maxHeight
func fullPageClip(contentWidth, contentHeight float64, opts types.ShotOptions, maxHeight int) *page.Viewport {
	width := math.Max(math.Ceil(contentWidth), float64(opts.Width))
	height := math.Max(math.Ceil(contentHeight), float64(opts.Height))
	if maxHeight > 0 && height > float64(maxHeight) {
		height = float64(maxHeight)
	}
	return &page.Viewport{X: 0, Y: 0, Width: width, Height: height, Scale: 1}
}

func screenshotFormat(format string) page.CaptureScreenshotFormat {
	switch format {
	case types.FormatJPEG:
		return page.CaptureScreenshotFormatJpeg
	case types.FormatWebP:
		return page.CaptureScreenshotFormatWebp
	default:
		return page.CaptureScreenshotFormatPng
	}
}

// enableLifeCycle enables page lifecycle events
func enableLifeCycle() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
