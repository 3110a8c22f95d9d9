package chrome

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/webshot/pkg/types"
)

// ChromePool manages a pool of Chrome instances with a simple FIFO queue
type ChromePool struct {
	config        *Config
	logger        *zap.Logger
	observer      PoolObserver
	instances     []*ChromeInstance
	queue         chan int     // FIFO queue of available instance IDs
	mu            sync.RWMutex // Protects instances slice
	activeTabs    atomic.Int32 // Number of currently active renders
	waiting       atomic.Int32 // Callers blocked in AcquireChrome
	totalRenders  atomic.Int64
	totalRestarts atomic.Int64
	createdAt     time.Time
	ctx           context.Context
	cancel        context.CancelFunc
	shutdownOnce  sync.Once
	shutdownErr   error
}

// NewChromePool creates a new Chrome pool with the specified configuration.
// observer may be nil.
func NewChromePool(config *Config, observer PoolObserver, logger *zap.Logger) (*ChromePool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolSize := config.CalculatePoolSize()
	logger.Info("Initializing Chrome pool",
		zap.Int("pool_size", poolSize))

	ctx, cancel := context.WithCancel(context.Background())

	pool := &ChromePool{
		config:    config,
		logger:    logger,
		observer:  observer,
		instances: make([]*ChromeInstance, poolSize),
		queue:     make(chan int, poolSize),
		createdAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < poolSize; i++ {
		instance, err := NewChromeInstance(i, config, logger)
		if err != nil {
			// Cleanup already created instances
			pool.Shutdown()
			return nil, fmt.Errorf("failed to create Chrome instance %d: %w", i, err)
		}

		pool.instances[i] = instance
		pool.queue <- i
	}

	pool.notifyObserver()

	logger.Info("Chrome pool initialized successfully",
		zap.Int("instances", poolSize))

	return pool, nil
}

// AcquireChrome blocks until an instance is free, the pool shuts down or ctx is done
func (p *ChromePool) AcquireChrome(ctx context.Context, requestID string) (*ChromeInstance, error) {
	p.waiting.Add(1)
	var instanceID int
	select {
	case <-p.ctx.Done():
		p.waiting.Add(-1)
		return nil, ErrPoolShutdown
	case <-ctx.Done():
		p.waiting.Add(-1)
		return nil, fmt.Errorf("%w: %v", ErrAcquireTimeout, ctx.Err())
	case instanceID = <-p.queue:
		p.waiting.Add(-1)
	}

	// Double-check if shutdown happened while we were waiting on queue
	select {
	case <-p.ctx.Done():
		p.returnToQueue(instanceID)
		return nil, ErrPoolShutdown
	default:
	}

	p.activeTabs.Add(1)

	p.mu.RLock()
	instance := p.instances[instanceID]
	p.mu.RUnlock()

	if reason := instance.restartReason(p.config); reason != "" {
		p.logger.Info("Relaunching Chrome instance before render",
			zap.String("request_id", requestID),
			zap.Int("instance_id", instanceID),
			zap.String("reason", reason),
			zap.Int32("requests_done", instance.GetRequestsDone()))

		instance.SetStatus(ChromeStatusRestarting)
		if err := instance.Restart(p.config); err != nil {
			p.logger.Error("Failed to restart instance",
				zap.String("request_id", requestID),
				zap.Int("instance_id", instanceID),
				zap.String("reason", reason),
				zap.Error(err))
			// The slot stays in rotation so the next acquire retries the restart
			p.activeTabs.Add(-1)
			p.returnToQueue(instanceID)
			return nil, fmt.Errorf("instance %d: %w", instanceID, err)
		}
		p.totalRestarts.Add(1)
	}

	instance.SetStatus(ChromeStatusRendering)
	instance.currentRequestID = requestID

	p.logger.Debug("Chrome instance acquired",
		zap.String("request_id", requestID),
		zap.Int("instance_id", instanceID),
		zap.Int32("active_tabs", p.activeTabs.Load()),
		zap.Int("pool_size", cap(p.queue)))

	p.notifyObserver()

	return instance, nil
}

// ReleaseChrome returns a Chrome instance back to the pool
func (p *ChromePool) ReleaseChrome(instance *ChromeInstance) {
	requestID := instance.currentRequestID
	if instance.browserGone() {
		instance.SetStatus(ChromeStatusDead)
	} else {
		instance.SetStatus(ChromeStatusIdle)
	}
	instance.markUsed()
	p.totalRenders.Add(1)

	// Clear request ID BEFORE returning to queue to avoid race condition
	instance.currentRequestID = ""

	p.activeTabs.Add(-1)

	select {
	case p.queue <- instance.ID:
		p.logger.Debug("Chrome instance released",
			zap.String("request_id", requestID),
			zap.Int("instance_id", instance.ID),
			zap.Int32("requests_done", instance.GetRequestsDone()),
			zap.Int32("active_tabs", p.activeTabs.Load()))
	case <-p.ctx.Done():
		p.logger.Debug("Discarding instance during shutdown",
			zap.String("request_id", requestID),
			zap.Int("instance_id", instance.ID))
	default:
		// Queue full - should never happen, indicates bug
		p.logger.Error("Queue full when returning instance - possible leak",
			zap.String("request_id", requestID),
			zap.Int("instance_id", instance.ID),
			zap.Int("queue_len", len(p.queue)))
	}

	p.notifyObserver()
}

func (p *ChromePool) returnToQueue(instanceID int) {
	select {
	case p.queue <- instanceID:
	case <-p.ctx.Done():
	default:
	}
}

func (p *ChromePool) notifyObserver() {
	if p.observer == nil {
		return
	}
	p.observer.UpdatePool(cap(p.queue), len(p.queue))
}

// GetStats returns current pool statistics
func (p *ChromePool) GetStats() PoolStats {
	p.mu.RLock()
	totalInstances := len(p.instances)
	p.mu.RUnlock()

	return PoolStats{
		TotalInstances:     totalInstances,
		AvailableInstances: len(p.queue),
		ActiveInstances:    int(p.activeTabs.Load()),
		Waiting:            int(p.waiting.Load()),
		TotalRenders:       p.totalRenders.Load(),
		TotalRestarts:      p.totalRestarts.Load(),
		Uptime:             time.Since(p.createdAt),
	}
}

// BrowserVersion returns the version reported by the first live instance
func (p *ChromePool) BrowserVersion() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, instance := range p.instances {
		if instance != nil && instance.GetBrowserVersion() != "" {
			return instance.GetBrowserVersion()
		}
	}
	return ""
}

// Shutdown gracefully shuts down all Chrome instances with default timeout
func (p *ChromePool) Shutdown() error {
	return p.ShutdownWithTimeout(p.config.ShutdownTimeout)
}

// ShutdownWithTimeout waits up to timeout for active renders, then terminates every instance.
// Subsequent calls return the result of the first.
func (p *ChromePool) ShutdownWithTimeout(timeout time.Duration) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(timeout)
	})
	return p.shutdownErr
}

func (p *ChromePool) shutdown(timeout time.Duration) error {
	p.logger.Info("Initiating Chrome pool shutdown",
		zap.Duration("timeout", timeout),
		zap.Int32("active_renders", p.activeTabs.Load()))

	// Stop handing out instances; waiters get ErrPoolShutdown
	p.cancel()

	if p.waitForActiveRenders(timeout) {
		p.logger.Info("All active renders completed gracefully")
	} else {
		p.logger.Warn("Shutdown timeout exceeded, forcing termination",
			zap.Int32("stuck_renders", p.activeTabs.Load()))
	}

	p.mu.Lock()
	terminated := 0
	for _, instance := range p.instances {
		if instance != nil {
			instance.Terminate()
			terminated++
		}
	}
	p.mu.Unlock()

	// The queue is never closed to avoid panics on send

	finalStats := p.GetStats()
	p.logger.Info("Chrome pool shut down",
		zap.Int("terminated", terminated),
		zap.Int64("total_renders", finalStats.TotalRenders),
		zap.Int64("total_restarts", finalStats.TotalRestarts),
		zap.Duration("uptime", finalStats.Uptime))

	return nil
}

// waitForActiveRenders waits for all active renders to complete with timeout
// Returns true if all renders completed, false if timeout was reached
func (p *ChromePool) waitForActiveRenders(timeout time.Duration) bool {
	deadline := time.Now().UTC().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.activeTabs.Load() == 0 {
			return true
		}

		<-ticker.C
		if time.Now().UTC().After(deadline) {
			return false
		}
	}
}

// PoolSize returns the total number of Chrome instances in the pool
func (p *ChromePool) PoolSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.instances)
}

// AvailableInstances returns the number of available Chrome instances
func (p *ChromePool) AvailableInstances() int {
	return len(p.queue)
}

// Capture takes a screenshot with an instance previously returned by AcquireChrome
func (p *ChromePool) Capture(ctx context.Context, instance *ChromeInstance, req *types.RenderRequest) (*types.Shot, error) {
	return instance.Capture(ctx, req, p.config)
}
