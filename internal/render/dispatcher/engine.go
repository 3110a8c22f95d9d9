package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgecomet/webshot/internal/render/chrome"
	"github.com/edgecomet/webshot/pkg/types"
)

// Instance is one exclusively held render slot
type Instance interface {
	ID() string
	Capture(ctx context.Context, req *types.RenderRequest) (*types.Shot, error)
}

// Engine hands out render slots. Acquire blocks until a slot is free or ctx is done.
type Engine interface {
	Acquire(ctx context.Context, requestID string) (Instance, error)
	Release(instance Instance)
	Stats() chrome.PoolStats
}

// RenderError is a failed render with its structured error type
type RenderError struct {
	Type string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// ErrorType returns the structured error type reported to clients
func (e *RenderError) ErrorType() string {
	return e.Type
}

// ErrorTypeOf returns the structured type of err, or "" when err is not a RenderError
func ErrorTypeOf(err error) string {
	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return renderErr.Type
	}
	return ""
}

// classify wraps err in a RenderError unless it already is one
func classify(err error) *RenderError {
	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return renderErr
	}
	return &RenderError{Type: chrome.ErrorType(err), Err: err}
}

// ChromeEngine serves render slots from a ChromePool
type ChromeEngine struct {
	pool *chrome.ChromePool
}

func NewChromeEngine(pool *chrome.ChromePool) *ChromeEngine {
	return &ChromeEngine{pool: pool}
}

func (e *ChromeEngine) Acquire(ctx context.Context, requestID string) (Instance, error) {
	instance, err := e.pool.AcquireChrome(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &chromeSlot{pool: e.pool, instance: instance}, nil
}

func (e *ChromeEngine) Release(instance Instance) {
	if slot, ok := instance.(*chromeSlot); ok {
		e.pool.ReleaseChrome(slot.instance)
	}
}

func (e *ChromeEngine) Stats() chrome.PoolStats {
	return e.pool.GetStats()
}

// BrowserVersion reports the Chrome build behind the pool
func (e *ChromeEngine) BrowserVersion() string {
	return e.pool.BrowserVersion()
}

type chromeSlot struct {
	pool     *chrome.ChromePool
	instance *chrome.ChromeInstance
}

func (s *chromeSlot) ID() string {
	return fmt.Sprintf("chrome-%d", s.instance.ID)
}

func (s *chromeSlot) Capture(ctx context.Context, req *types.RenderRequest) (*types.Shot, error) {
	return s.pool.Capture(ctx, s.instance, req)
}
