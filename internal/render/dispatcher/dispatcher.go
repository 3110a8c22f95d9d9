package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/render/chrome"
	"github.com/edgecomet/webshot/internal/shot/metrics"
	"github.com/edgecomet/webshot/pkg/types"
)

// renderSoftTimeout labels renders whose lifecycle wait expired before capture
const renderSoftTimeout = "soft_timeout"

var errRenderPanic = errors.New("render panicked")

// Dispatcher runs renders on an Engine under a hard timeout
type Dispatcher struct {
	engine     Engine
	maxTimeout time.Duration
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// New creates a Dispatcher. collector may be nil.
func New(engine Engine, maxTimeout time.Duration, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		engine:     engine,
		maxTimeout: maxTimeout,
		metrics:    collector,
		logger:     logger,
	}
}

// Render acquires a slot, captures req and releases the slot.
// The render is detached from ctx cancellation so coalesced waiters still get the result;
// acquiring and capturing together are bounded by the hard timeout.
// Every error returned is a *RenderError.
func (d *Dispatcher) Render(ctx context.Context, req *types.RenderRequest) (*types.Shot, error) {
	start := time.Now()

	renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.maxTimeout)
	defer cancel()

	d.metrics.IncInflight()
	defer d.metrics.DecInflight()

	d.logger.Debug("Starting render",
		zap.String("request_id", req.RequestID),
		zap.String("url", req.URL),
		zap.Duration("hard_timeout", d.maxTimeout))

	instance, err := d.engine.Acquire(renderCtx, req.RequestID)
	if err != nil {
		renderErr := classify(err)
		d.logger.Error("Acquisition failed",
			zap.String("request_id", req.RequestID),
			zap.String("url", req.URL),
			zap.String("error_type", renderErr.Type),
			zap.Error(err))
		d.metrics.RecordRender(renderErr.Type, time.Since(start))
		return nil, renderErr
	}
	defer d.engine.Release(instance)

	shot, err := d.capture(renderCtx, instance, req)
	duration := time.Since(start)

	if err != nil {
		renderErr := classify(err)
		if errors.Is(renderCtx.Err(), context.DeadlineExceeded) && renderErr.Type != types.ErrorTypeHardTimeout {
			renderErr = &RenderError{Type: types.ErrorTypeHardTimeout, Err: fmt.Errorf("%w: %v", chrome.ErrHardTimeout, err)}
		}
		d.metrics.RecordRender(renderErr.Type, duration)
		d.logger.Error("Render failed",
			zap.String("request_id", req.RequestID),
			zap.String("url", req.URL),
			zap.String("instance_id", instance.ID()),
			zap.String("error_type", renderErr.Type),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, renderErr
	}

	if shot.TimedOut {
		d.metrics.RecordRender(renderSoftTimeout, duration)
		d.logger.Warn("Render completed with soft timeout",
			zap.String("request_id", req.RequestID),
			zap.String("url", req.URL),
			zap.String("instance_id", instance.ID()),
			zap.Duration("duration", duration),
			zap.Int("image_bytes", len(shot.Image)),
			zap.Int("status_code", shot.StatusCode))
	} else {
		d.metrics.RecordRender(metrics.RenderSuccess, duration)
		d.logger.Info("Render successful",
			zap.String("request_id", req.RequestID),
			zap.String("url", req.URL),
			zap.String("instance_id", instance.ID()),
			zap.Duration("duration", duration),
			zap.Int("image_bytes", len(shot.Image)),
			zap.Int("status_code", shot.StatusCode))
	}

	return shot, nil
}

// capture converts a panic inside the engine into a render_failed error
func (d *Dispatcher) capture(ctx context.Context, instance Instance, req *types.RenderRequest) (shot *types.Shot, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Render panicked",
				zap.String("request_id", req.RequestID),
				zap.String("instance_id", instance.ID()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			shot = nil
			err = &RenderError{Type: types.ErrorTypeRenderFailed, Err: fmt.Errorf("%w: %v", errRenderPanic, r)}
		}
	}()

	shot, err = instance.Capture(ctx, req)
	if err == nil && shot == nil {
		err = fmt.Errorf("%w: engine returned no shot", chrome.ErrCaptureFailed)
	}
	return shot, err
}

// Stats returns the engine's pool statistics
func (d *Dispatcher) Stats() chrome.PoolStats {
	return d.engine.Stats()
}
