package chrome

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ChromeStatus represents the current state of a Chrome instance
type ChromeStatus int

const (
	// ChromeStatusIdle indicates the instance is ready for rendering
	ChromeStatusIdle ChromeStatus = iota
	// ChromeStatusRendering indicates the instance is currently processing a request
	ChromeStatusRendering
	// ChromeStatusRestarting indicates the instance is being restarted
	ChromeStatusRestarting
	// ChromeStatusDead indicates the instance has crashed or been terminated
	ChromeStatusDead
)

// String returns the string representation of ChromeStatus
func (s ChromeStatus) String() string {
	switch s {
	case ChromeStatusIdle:
		return "idle"
	case ChromeStatusRendering:
		return "rendering"
	case ChromeStatusRestarting:
		return "restarting"
	case ChromeStatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ChromeInstance represents a single Chrome browser instance
type ChromeInstance struct {
	ID              int                // Immutable
	ctx             context.Context    // Replaced only by Restart while the instance is checked out
	cancel          context.CancelFunc
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	createdAt       time.Time
	logger          *zap.Logger
	browserVersion  string // e.g. "HeadlessChrome/120.0.6099.109"

	status           atomic.Int32 // ChromeStatus
	requestsDone     atomic.Int32
	currentRequestID string // Set by AcquireChrome, cleared by ReleaseChrome
}

// PoolStats represents statistics about the Chrome pool
type PoolStats struct {
	TotalInstances     int           `json:"total_instances"`
	AvailableInstances int           `json:"available_instances"`
	ActiveInstances    int           `json:"active_instances"`
	Waiting            int           `json:"waiting"`
	TotalRenders       int64         `json:"total_renders"`
	TotalRestarts      int64         `json:"total_restarts"`
	Uptime             time.Duration `json:"uptime"`
}

// PoolObserver receives pool occupancy after every acquire and release
type PoolObserver interface {
	UpdatePool(size, available int)
}
