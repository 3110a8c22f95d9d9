package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// MemoryStore keeps the most recently used artifacts in process memory.
// Entries are bounded by count and dropped on read once expired.
type MemoryStore struct {
	entries *lru.Cache
	logger  *zap.Logger
}

// NewMemoryStore creates a memory tier holding at most size artifacts
func NewMemoryStore(size int, logger *zap.Logger) (*MemoryStore, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryStore{entries: entries, logger: logger}, nil
}

func (m *MemoryStore) Lookup(_ context.Context, key Key) (*Artifact, error) {
	value, ok := m.entries.Get(key.String())
	if !ok {
		return nil, nil
	}

	artifact := value.(*Artifact)
	if artifact.IsExpired() {
		m.entries.Remove(key.String())
		m.logger.Debug("Dropped expired artifact from memory",
			zap.String("cache_key", key.String()))
		return nil, nil
	}
	return artifact, nil
}

func (m *MemoryStore) Store(_ context.Context, artifact *Artifact) error {
	if err := artifact.validate(); err != nil {
		return err
	}
	if artifact.IsExpired() {
		return nil
	}

	if evicted := m.entries.Add(artifact.Key.String(), artifact); evicted {
		m.logger.Debug("Memory cache full, evicted least recently used artifact",
			zap.Int("entries", m.entries.Len()))
	}
	return nil
}

// Len returns the number of artifacts held, expired ones included
func (m *MemoryStore) Len() int {
	return m.entries.Len()
}
