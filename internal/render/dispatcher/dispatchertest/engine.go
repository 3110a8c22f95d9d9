// Package dispatchertest provides an in-process Engine for tests that must not start Chrome.
package dispatchertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgecomet/webshot/internal/render/chrome"
	"github.com/edgecomet/webshot/internal/render/dispatcher"
	"github.com/edgecomet/webshot/pkg/types"
)

// CaptureFunc produces the shot for one render
type CaptureFunc func(ctx context.Context, req *types.RenderRequest) (*types.Shot, error)

// Engine is a fixed-size slot pool whose captures are served by a CaptureFunc
type Engine struct {
	capture  atomic.Value // CaptureFunc
	slots    chan int
	size     int
	captures atomic.Int64
	acquired atomic.Int32

	mu         sync.Mutex
	requestIDs []string
	acquireErr error
}

// NewEngine creates an engine with size slots rendering through capture
func NewEngine(size int, capture CaptureFunc) *Engine {
	e := &Engine{slots: make(chan int, size), size: size}
	for i := 0; i < size; i++ {
		e.slots <- i
	}
	e.SetCapture(capture)
	return e
}

// SetCapture replaces the capture function
func (e *Engine) SetCapture(capture CaptureFunc) {
	e.capture.Store(capture)
}

// FailAcquire makes every following Acquire return err; nil restores normal behaviour
func (e *Engine) FailAcquire(err error) {
	e.mu.Lock()
	e.acquireErr = err
	e.mu.Unlock()
}

func (e *Engine) Acquire(ctx context.Context, requestID string) (dispatcher.Instance, error) {
	e.mu.Lock()
	err := e.acquireErr
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case id := <-e.slots:
		e.acquired.Add(1)
		return &slot{engine: e, id: id}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", chrome.ErrAcquireTimeout, ctx.Err())
	}
}

func (e *Engine) Release(instance dispatcher.Instance) {
	s := instance.(*slot)
	e.acquired.Add(-1)
	e.slots <- s.id
}

func (e *Engine) Stats() chrome.PoolStats {
	available := len(e.slots)
	return chrome.PoolStats{
		TotalInstances:     e.size,
		AvailableInstances: available,
		ActiveInstances:    e.size - available,
		TotalRenders:       e.captures.Load(),
	}
}

// Captures returns how many times the capture function ran
func (e *Engine) Captures() int64 {
	return e.captures.Load()
}

// Acquired returns the number of slots currently checked out
func (e *Engine) Acquired() int {
	return int(e.acquired.Load())
}

// RequestIDs returns the request ids of every capture, in call order
func (e *Engine) RequestIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.requestIDs...)
}

type slot struct {
	engine *Engine
	id     int
}

func (s *slot) ID() string {
	return fmt.Sprintf("fake-%d", s.id)
}

func (s *slot) Capture(ctx context.Context, req *types.RenderRequest) (*types.Shot, error) {
	s.engine.captures.Add(1)
	s.engine.mu.Lock()
	s.engine.requestIDs = append(s.engine.requestIDs, req.RequestID)
	s.engine.mu.Unlock()

	capture := s.engine.capture.Load().(CaptureFunc)
	return capture(ctx, req)
}

// StaticImage returns a CaptureFunc that always succeeds with image
func StaticImage(image []byte) CaptureFunc {
	return func(ctx context.Context, req *types.RenderRequest) (*types.Shot, error) {
		return &types.Shot{
			RequestID:  req.RequestID,
			Image:      append([]byte(nil), image...),
			Format:     req.Options.Format,
			Width:      req.Options.Width,
			Height:     req.Options.Height,
			FinalURL:   req.URL,
			StatusCode: 200,
			Timestamp:  time.Now().UTC(),
		}, nil
	}
}

// Gated wraps capture so it blocks until release is closed or ctx is done
func Gated(release <-chan struct{}, capture CaptureFunc) CaptureFunc {
	return func(ctx context.Context, req *types.RenderRequest) (*types.Shot, error) {
		select {
		case <-release:
			return capture(ctx, req)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
