package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/edgecomet/webshot/internal/render/dispatcher"
	"github.com/edgecomet/webshot/internal/shot/cache"
	"github.com/edgecomet/webshot/internal/shot/metrics"
	"github.com/edgecomet/webshot/pkg/types"
)

// freshFlightSuffix separates ignore-cache flights from normal flights for the same key
const freshFlightSuffix = "#fresh"

// Renderer produces a shot for a request; *dispatcher.Dispatcher implements it
type Renderer interface {
	Render(ctx context.Context, req *types.RenderRequest) (*types.Shot, error)
}

// Result is what a request gets back: the artifact and where it came from
type Result struct {
	Artifact *cache.Artifact
	Source   string // metrics.CacheHit, CacheMiss, CacheBypass or CacheCoalesced
	Cached   bool   // Artifact is held in the cache
	Duration time.Duration
}

// flightResult is shared by every caller joined to one flight
type flightResult struct {
	artifact *cache.Artifact
	leaderID string
	fromHit  bool
	stored   bool
}

// ShotOrchestrator drives lookup, coalesced render, store for one request.
// At most one render per flight key runs at a time in this process.
type ShotOrchestrator struct {
	cacheCoord *CacheCoordinator
	renderer   Renderer
	flights    singleflight.Group
	metrics    *metrics.Collector
	logger     *zap.Logger
}

func NewShotOrchestrator(cacheCoord *CacheCoordinator, renderer Renderer, collector *metrics.Collector, logger *zap.Logger) *ShotOrchestrator {
	return &ShotOrchestrator{
		cacheCoord: cacheCoord,
		renderer:   renderer,
		metrics:    collector,
		logger:     logger,
	}
}

// Process serves req from cache or by rendering it.
// Errors are *dispatcher.RenderError, or *types.RequestError when no cache key can be derived.
func (so *ShotOrchestrator) Process(ctx context.Context, req *types.RenderRequest) (*Result, error) {
	start := time.Now()

	key, err := cache.NewKey(req.URL, req.Options)
	if err != nil {
		return nil, types.InvalidURL("%v", err)
	}

	if !req.IgnoreCache {
		if artifact := so.cacheCoord.Lookup(ctx, key, req.RequestID); artifact != nil {
			so.metrics.RecordCache(metrics.CacheHit)
			so.logger.Info("Cache hit",
				zap.String("request_id", req.RequestID),
				zap.String("url", req.URL),
				zap.String("cache_key", key.String()),
				zap.Duration("ttl", artifact.TTL()))
			return &Result{Artifact: artifact, Source: metrics.CacheHit, Cached: true, Duration: time.Since(start)}, nil
		}
	}

	flightKey := key.String()
	if req.IgnoreCache {
		flightKey += freshFlightSuffix
	}

	// Flight work must outlive the leader's request so joined callers still get a result
	flightCtx := context.WithoutCancel(ctx)
	ch := so.flights.DoChan(flightKey, func() (interface{}, error) {
		return so.runFlight(flightCtx, key, req)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		so.logger.Warn("Request cancelled while waiting for render",
			zap.String("request_id", req.RequestID),
			zap.String("cache_key", key.String()),
			zap.Error(ctx.Err()))
		return nil, &dispatcher.RenderError{
			Type: types.ErrorTypeHardTimeout,
			Err:  fmt.Errorf("waiting for render: %w", ctx.Err()),
		}
	}

	if res.Err != nil {
		return nil, res.Err
	}

	flight := res.Val.(*flightResult)
	source := so.sourceFor(req, flight)
	so.metrics.RecordCache(source)

	if source == metrics.CacheCoalesced {
		so.logger.Info("Joined in-flight render",
			zap.String("request_id", req.RequestID),
			zap.String("leader_request_id", flight.leaderID),
			zap.String("cache_key", key.String()))
	}

	return &Result{Artifact: flight.artifact, Source: source, Cached: flight.stored, Duration: time.Since(start)}, nil
}

// runFlight executes on behalf of every caller joined to the flight
func (so *ShotOrchestrator) runFlight(ctx context.Context, key cache.Key, req *types.RenderRequest) (*flightResult, error) {
	if !req.IgnoreCache {
		// a flight for this key may have finished between our lookup and joining
		if artifact := so.cacheCoord.Lookup(ctx, key, req.RequestID); artifact != nil {
			return &flightResult{artifact: artifact, leaderID: req.RequestID, fromHit: true, stored: true}, nil
		}
	}

	so.logger.Debug("Rendering",
		zap.String("request_id", req.RequestID),
		zap.String("url", req.URL),
		zap.String("cache_key", key.String()),
		zap.Bool("ignore_cache", req.IgnoreCache))

	renderStart := time.Now()
	shot, err := so.renderer.Render(ctx, req)
	if err != nil {
		return nil, err
	}

	artifact, stored := so.cacheCoord.Save(ctx, key, req, shot, renderStart)
	return &flightResult{artifact: artifact, leaderID: req.RequestID, stored: stored}, nil
}

func (so *ShotOrchestrator) sourceFor(req *types.RenderRequest, flight *flightResult) string {
	switch {
	case flight.leaderID != req.RequestID:
		return metrics.CacheCoalesced
	case flight.fromHit:
		return metrics.CacheHit
	case req.IgnoreCache:
		return metrics.CacheBypass
	}
	return metrics.CacheMiss
}
