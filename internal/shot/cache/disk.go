package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/common/redis"
	"github.com/edgecomet/webshot/internal/shot/metrics"
	"github.com/edgecomet/webshot/pkg/types"
)

// DiskStore keeps artifact metadata in a Redis hash and image bytes on the filesystem.
// Files live under <baseDir>/<yyyy>/<mm>/<dd>/<hh>/<mm>/ where the timestamp is the
// artifact's expiry, so the cleanup worker can drop whole directories.
type DiskStore struct {
	redis       *redis.Client
	baseDir     string
	compression string
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewDiskStore creates the Redis+filesystem tier rooted at baseDir
func NewDiskStore(redisClient *redis.Client, baseDir, compression string, collector *metrics.Collector, logger *zap.Logger) *DiskStore {
	return &DiskStore{
		redis:       redisClient,
		baseDir:     filepath.Clean(baseDir),
		compression: compression,
		metrics:     collector,
		logger:      logger,
	}
}

func (ds *DiskStore) Lookup(ctx context.Context, key Key) (*Artifact, error) {
	metaKey := redis.MetadataKey(key.String())
	data, err := ds.redis.HGetAll(ctx, metaKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	artifact := &Artifact{}
	if err := artifact.fromHash(data); err != nil {
		ds.logger.Error("Failed to parse artifact metadata, dropping entry",
			zap.String("cache_key", key.String()),
			zap.Error(err))
		ds.deleteMetadata(ctx, metaKey)
		return nil, nil
	}

	if artifact.IsExpired() {
		return nil, nil
	}

	absPath, err := ds.absolutePath(artifact.FilePath)
	if err != nil {
		ds.logger.Error("Artifact metadata points outside cache directory",
			zap.String("cache_key", key.String()),
			zap.String("file_path", artifact.FilePath),
			zap.Error(err))
		ds.deleteMetadata(ctx, metaKey)
		return nil, nil
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File removed under us (cleanup or manual purge): treat as a miss
			ds.logger.Warn("Artifact file missing, dropping metadata",
				zap.String("cache_key", key.String()),
				zap.String("file_path", artifact.FilePath))
			ds.deleteMetadata(ctx, metaKey)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read artifact file: %w", err)
	}

	image, err := Decompress(raw, absPath)
	if err != nil {
		ds.logger.Error("Failed to decompress artifact, dropping entry",
			zap.String("cache_key", key.String()),
			zap.String("file_path", artifact.FilePath),
			zap.Error(err))
		ds.deleteMetadata(ctx, metaKey)
		return nil, nil
	}

	artifact.Image = image
	if artifact.Digest == "" {
		artifact.Digest = HashBytes(image)
	}

	ds.logger.Debug("Artifact read from disk",
		zap.String("cache_key", key.String()),
		zap.String("file_path", artifact.FilePath),
		zap.Int64("disk_size", artifact.DiskSize),
		zap.Int("size", len(image)))

	return artifact, nil
}

func (ds *DiskStore) Store(ctx context.Context, artifact *Artifact) error {
	if err := artifact.validate(); err != nil {
		return err
	}

	ttl := artifact.TTL()
	// Refuse already expired artifacts: a zero Redis TTL would never expire
	if ttl <= 0 {
		return fmt.Errorf("artifact already expired at %s", artifact.ExpiresAt.Format(time.RFC3339))
	}

	content, ext, err := Compress(artifact.Image, ds.compression)
	if err != nil {
		ds.logger.Warn("Compression failed, storing uncompressed",
			zap.String("cache_key", artifact.Key.String()),
			zap.Error(err))
		content, ext = artifact.Image, ""
	}
	if ext != "" {
		ds.metrics.RecordBytesSaved(ds.compression, int64(len(artifact.Image)-len(content)))
	}

	relPath := ds.filePath(artifact, ext)
	absPath, err := ds.absolutePath(relPath)
	if err != nil {
		return err
	}

	if err := writeFileAtomic(absPath, content); err != nil {
		return err
	}

	stored := *artifact
	stored.FilePath = relPath
	stored.DiskSize = int64(len(content))
	stored.Compression = DetectAlgorithmFromPath(relPath)

	values := make([]interface{}, 0, 32)
	for k, v := range stored.toHash() {
		values = append(values, k, v)
	}

	metaKey := redis.MetadataKey(artifact.Key.String())
	if err := ds.redis.HSetWithExpire(ctx, metaKey, ttl, values...); err != nil {
		// Metadata is the index; an unindexed file would only wait for cleanup
		os.Remove(absPath)
		return fmt.Errorf("failed to store metadata: %w", err)
	}

	ds.logger.Debug("Artifact written to disk",
		zap.String("cache_key", artifact.Key.String()),
		zap.String("file_path", relPath),
		zap.Int64("size", stored.Size),
		zap.Int64("disk_size", stored.DiskSize),
		zap.Duration("ttl", ttl))

	return nil
}

// filePath returns the path of the artifact image relative to baseDir
func (ds *DiskStore) filePath(artifact *Artifact, compressionExt string) string {
	ts := artifact.ExpiresAt.UTC()
	name := artifact.Key.fileName() + types.ExtensionForFormat(artifact.Format) + compressionExt
	return filepath.Join(
		ts.Format("2006"), ts.Format("01"), ts.Format("02"), ts.Format("15"), ts.Format("04"),
		name)
}

// absolutePath joins relPath onto baseDir, rejecting paths that escape it
func (ds *DiskStore) absolutePath(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty file path")
	}
	cleanPath := filepath.Clean(filepath.Join(ds.baseDir, relPath))
	if !strings.HasPrefix(cleanPath, ds.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes cache directory: %s", relPath)
	}
	return cleanPath, nil
}

func (ds *DiskStore) deleteMetadata(ctx context.Context, metaKey string) {
	if err := ds.redis.Del(ctx, metaKey); err != nil {
		ds.logger.Warn("Failed to delete artifact metadata",
			zap.String("meta_key", metaKey),
			zap.Error(err))
	}
}

// writeFileAtomic writes content to a temp file in the target directory and renames it into place
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Health is a point-in-time view of the disk tier's metadata index
type Health struct {
	Entries int           `json:"entries"`
	Latency time.Duration `json:"latency"`
}

// Health pings Redis and counts indexed artifacts
func (ds *DiskStore) Health(ctx context.Context) (Health, error) {
	latency, err := ds.redis.HealthCheck(ctx)
	if err != nil {
		return Health{}, err
	}
	entries, err := ds.redis.CountKeys(ctx, redis.MetadataPattern())
	if err != nil {
		return Health{}, err
	}
	return Health{Entries: entries, Latency: latency}, nil
}
