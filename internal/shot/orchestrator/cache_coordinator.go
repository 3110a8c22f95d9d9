package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/shot/cache"
	"github.com/edgecomet/webshot/internal/shot/metrics"
	"github.com/edgecomet/webshot/pkg/types"
)

// Cache operations reported in cache error metrics
const (
	cacheOpLookup = "lookup"
	cacheOpStore  = "store"
)

// CacheCoordinator wraps a cache.Store so that backend failures never fail a request.
// A nil store means caching is disabled: every lookup misses and stores are dropped.
type CacheCoordinator struct {
	store   cache.Store
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewCacheCoordinator(store cache.Store, ttl time.Duration, collector *metrics.Collector, logger *zap.Logger) *CacheCoordinator {
	return &CacheCoordinator{
		store:   store,
		ttl:     ttl,
		metrics: collector,
		logger:  logger,
	}
}

// Enabled reports whether a cache store is configured
func (cc *CacheCoordinator) Enabled() bool {
	return cc.store != nil
}

// Lookup returns the cached artifact for key, or nil on a miss or backend failure
func (cc *CacheCoordinator) Lookup(ctx context.Context, key cache.Key, requestID string) *cache.Artifact {
	if cc.store == nil {
		return nil
	}

	artifact, err := cc.store.Lookup(ctx, key)
	if err != nil {
		cc.metrics.RecordCacheError(cacheOpLookup)
		cc.logger.Warn("Cache lookup failed, rendering without cache",
			zap.String("request_id", requestID),
			zap.String("cache_key", key.String()),
			zap.Error(err))
		return nil
	}
	return artifact
}

// Save builds an artifact for shot and stores it. renderStart is when the render began.
// The artifact is returned even when storing fails so the caller can still reply with it;
// stored reports whether the returned artifact is held in the cache.
//
// A normal request never replaces an artifact stored after its render began: that one
// came from a later ignore-cache render. The newer artifact is returned instead.
func (cc *CacheCoordinator) Save(ctx context.Context, key cache.Key, req *types.RenderRequest, shot *types.Shot, renderStart time.Time) (artifact *cache.Artifact, stored bool) {
	artifact = cache.NewArtifact(key, req.URL, shot, cc.ttl)
	if cc.store == nil {
		return artifact, false
	}

	if shot.TimedOut {
		cc.logger.Debug("Not caching shot captured after lifecycle timeout",
			zap.String("request_id", req.RequestID),
			zap.String("cache_key", key.String()))
		return artifact, false
	}

	if !req.IgnoreCache {
		if newer := cc.newerArtifact(ctx, key, renderStart); newer != nil {
			cc.logger.Debug("Newer artifact stored during render, keeping it",
				zap.String("request_id", req.RequestID),
				zap.String("cache_key", key.String()),
				zap.String("stored_by", newer.RequestID))
			return newer, true
		}
	}

	if err := cc.store.Store(ctx, artifact); err != nil {
		cc.metrics.RecordCacheError(cacheOpStore)
		cc.logger.Warn("Failed to store artifact",
			zap.String("request_id", req.RequestID),
			zap.String("cache_key", key.String()),
			zap.Error(err))
		return artifact, false
	}

	cc.logger.Debug("Artifact stored",
		zap.String("request_id", req.RequestID),
		zap.String("cache_key", key.String()),
		zap.Time("expires_at", artifact.ExpiresAt))
	return artifact, true
}

// newerArtifact returns the cached artifact for key if it was created at or after since.
// Backend errors are not counted here; the store that follows reports them.
func (cc *CacheCoordinator) newerArtifact(ctx context.Context, key cache.Key, since time.Time) *cache.Artifact {
	existing, err := cc.store.Lookup(ctx, key)
	if err != nil || existing == nil {
		return nil
	}
	// disk metadata keeps whole seconds
	if existing.CreatedAt.Before(since.Truncate(time.Second)) {
		return nil
	}
	return existing
}
