package cache

import (
	"context"

	"go.uber.org/zap"
)

// TieredStore checks memory before disk and promotes disk hits into memory.
// Either tier may be nil.
type TieredStore struct {
	memory *MemoryStore
	disk   Store
	logger *zap.Logger
}

func NewTieredStore(memory *MemoryStore, disk Store, logger *zap.Logger) *TieredStore {
	return &TieredStore{memory: memory, disk: disk, logger: logger}
}

func (t *TieredStore) Lookup(ctx context.Context, key Key) (*Artifact, error) {
	if t.memory != nil {
		if artifact, _ := t.memory.Lookup(ctx, key); artifact != nil {
			return artifact, nil
		}
	}

	if t.disk == nil {
		return nil, nil
	}

	artifact, err := t.disk.Lookup(ctx, key)
	if err != nil || artifact == nil {
		return nil, err
	}

	if t.memory != nil {
		if err := t.memory.Store(ctx, artifact); err != nil {
			t.logger.Warn("Failed to promote artifact into memory",
				zap.String("cache_key", key.String()),
				zap.Error(err))
		}
	}
	return artifact, nil
}

// Store writes memory first so the artifact is served even if the disk write fails
func (t *TieredStore) Store(ctx context.Context, artifact *Artifact) error {
	if t.memory != nil {
		if err := t.memory.Store(ctx, artifact); err != nil {
			return err
		}
	}
	if t.disk != nil {
		return t.disk.Store(ctx, artifact)
	}
	return nil
}
