package chrome

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"

	"github.com/edgecomet/webshot/pkg/types"
)

func lifecycleEvent(frame, loader, name string) *page.EventLifecycleEvent {
	return &page.EventLifecycleEvent{
		FrameID:  cdp.FrameID(frame),
		LoaderID: cdp.LoaderID(loader),
		Name:     name,
	}
}

func TestWaitForLifecycle(t *testing.T) {
	t.Run("matching event", func(t *testing.T) {
		events := make(chan *page.EventLifecycleEvent, 4)
		events <- lifecycleEvent("F1", "L0", "load")             // previous navigation
		events <- lifecycleEvent("F2", "L1", "load")             // child frame
		events <- lifecycleEvent("F1", "L1", "DOMContentLoaded") // other event
		events <- lifecycleEvent("F1", "L1", "load")

		err := waitForLifecycle(context.Background(), events, types.WaitForLoad, "F1", "L1", time.Second)
		assert.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("soft timeout", func(t *testing.T) {
		events := make(chan *page.EventLifecycleEvent, 1)
		events <- lifecycleEvent("F1", "L1", "DOMContentLoaded")

		err := waitForLifecycle(context.Background(), events, types.WaitForNetworkIdle, "F1", "L1", 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrWaitTimeout)
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := waitForLifecycle(ctx, make(chan *page.EventLifecycleEvent), types.WaitForLoad, "F1", "L1", 0)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFullPageClip(t *testing.T) {
	opts := types.ShotOptions{Width: 1280, Height: 800}

	clip := fullPageClip(1280, 3000.4, opts, 16384)
	assert.Equal(t, 1280.0, clip.Width)
	assert.Equal(t, 3001.0, clip.Height)
	assert.Equal(t, 1.0, clip.Scale)

	// Short documents still cover the viewport
	clip = fullPageClip(600, 300, opts, 16384)
	assert.Equal(t, 1280.0, clip.Width)
	assert.Equal(t, 800.0, clip.Height)

	// Very long documents are cut at the limit
	clip = fullPageClip(1280, 90000, opts, 16384)
	assert.Equal(t, 16384.0, clip.Height)
}

func TestScreenshotFormat(t *testing.T) {
	assert.Equal(t, page.CaptureScreenshotFormatPng, screenshotFormat(types.FormatPNG))
	assert.Equal(t, page.CaptureScreenshotFormatJpeg, screenshotFormat(types.FormatJPEG))
	assert.Equal(t, page.CaptureScreenshotFormatWebp, screenshotFormat(types.FormatWebP))
	assert.Equal(t, page.CaptureScreenshotFormatPng, screenshotFormat(""))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
