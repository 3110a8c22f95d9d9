package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/common/configtypes"
	"github.com/edgecomet/webshot/internal/shot/metrics"
)

// CleanupWorker periodically deletes minute directories whose artifacts have all expired.
// Directory timestamps are expiry times, so a directory is removable once
// its timestamp is older than now minus the safety margin.
type CleanupWorker struct {
	config   configtypes.CleanupConfig
	basePath string
	metrics  *metrics.Collector
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewCleanupWorker(config configtypes.CleanupConfig, basePath string, collector *metrics.Collector, logger *zap.Logger) *CleanupWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &CleanupWorker{
		config:   config,
		basePath: filepath.Clean(basePath),
		metrics:  collector,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (w *CleanupWorker) Start() {
	if !w.config.Enabled {
		w.logger.Info("Cache cleanup worker disabled")
		return
	}

	interval := time.Duration(w.config.Interval)
	w.logger.Info("Cache cleanup worker starting",
		zap.Duration("interval", interval),
		zap.Duration("safety_margin", time.Duration(w.config.SafetyMargin)))

	ticker := time.NewTicker(interval)
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.RunOnce(time.Now().UTC())
			case <-w.ctx.Done():
				w.logger.Info("Cache cleanup worker shutting down")
				return
			}
		}
	}()
}

func (w *CleanupWorker) Shutdown() {
	w.cancel()
	w.wg.Wait()
	w.logger.Info("Cache cleanup worker stopped")
}

// RunOnce deletes every expired minute directory as of now and returns how many were removed
func (w *CleanupWorker) RunOnce(now time.Time) int {
	start := time.Now()
	threshold := now.Add(-time.Duration(w.config.SafetyMargin))

	if _, err := os.Stat(w.basePath); os.IsNotExist(err) {
		return 0
	}

	deleted := 0
	err := filepath.WalkDir(w.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("Error accessing path during cleanup",
				zap.String("path", path),
				zap.Error(err))
			return nil
		}
		if !d.IsDir() || path == w.basePath {
			return nil
		}

		dirTime, err := w.parseDirectoryTimestamp(path)
		if err != nil {
			// year..hour levels are only walked through
			return nil
		}

		if dirTime.Before(threshold) {
			if err := os.RemoveAll(path); err != nil {
				w.logger.Warn("Failed to delete directory",
					zap.String("path", path),
					zap.Time("dir_time", dirTime),
					zap.Error(err))
				return filepath.SkipDir
			}
			deleted++
			w.removeEmptyParents(path)
		}
		return filepath.SkipDir
	})
	if err != nil {
		w.logger.Error("Cache cleanup walk failed", zap.Error(err))
	}

	w.metrics.RecordCleanup(deleted)
	w.logger.Info("Cache cleanup finished",
		zap.Int("directories_deleted", deleted),
		zap.Time("threshold", threshold),
		zap.Duration("duration", time.Since(start)))

	return deleted
}

func (w *CleanupWorker) removeEmptyParents(deletedPath string) {
	for current := filepath.Dir(deletedPath); current != w.basePath && strings.HasPrefix(current, w.basePath); current = filepath.Dir(current) {
		entries, err := os.ReadDir(current)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(current); err != nil {
			w.logger.Warn("Failed to remove empty parent directory",
				zap.String("path", current),
				zap.Error(err))
			return
		}
	}
}

// parseDirectoryTimestamp parses yyyy/mm/dd/hh/mm relative to the base path.
// Shallower paths return an error.
func (w *CleanupWorker) parseDirectoryTimestamp(path string) (time.Time, error) {
	relPath, err := filepath.Rel(w.basePath, path)
	if err != nil {
		return time.Time{}, err
	}

	parts := strings.Split(filepath.Clean(relPath), string(filepath.Separator))
	if len(parts) != 5 {
		return time.Time{}, fmt.Errorf("not a minute directory: %s", relPath)
	}

	var fields [5]int
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid path component %q in %s", part, relPath)
		}
		fields[i] = v
	}

	year, month, day, hour, minute := fields[0], fields[1], fields[2], fields[3], fields[4]
	if year < 2020 || year > 2100 || month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid timestamp values: %04d-%02d-%02d %02d:%02d", year, month, day, hour, minute)
	}

	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC), nil
}
