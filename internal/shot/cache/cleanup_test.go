package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/common/configtypes"
	"github.com/edgecomet/webshot/internal/shot/metrics"
	"github.com/edgecomet/webshot/pkg/types"
)

func cleanupConfig() configtypes.CleanupConfig {
	return configtypes.CleanupConfig{
		Enabled:      true,
		Interval:     types.Duration(time.Minute),
		SafetyMargin: types.Duration(5 * time.Minute),
	}
}

func makeShotFile(t *testing.T, base, rel string) string {
	t.Helper()
	dir := filepath.Join(base, rel)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "0123456789abcdef_0123456789abcdef.png")
	require.NoError(t, os.WriteFile(path, []byte("img"), 0644))
	return path
}

func TestCleanupWorker_RunOnce(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	expired := makeShotFile(t, base, "2025/06/01/11/30")
	expiredOtherDay := makeShotFile(t, base, "2025/05/31/23/59")
	withinMargin := makeShotFile(t, base, "2025/06/01/11/58")
	future := makeShotFile(t, base, "2025/06/01/12/30")
	stray := filepath.Join(base, "lost+found")
	require.NoError(t, os.MkdirAll(stray, 0755))

	worker := NewCleanupWorker(cleanupConfig(), base, nil, zap.NewNop())
	deleted := worker.RunOnce(now)

	assert.Equal(t, 2, deleted)
	assert.NoFileExists(t, expired)
	assert.NoFileExists(t, expiredOtherDay)
	assert.FileExists(t, withinMargin)
	assert.FileExists(t, future)
	assert.DirExists(t, stray)

	// emptied parents are removed, shared ones survive
	assert.NoDirExists(t, filepath.Join(base, "2025/06/01/11/30"))
	assert.NoDirExists(t, filepath.Join(base, "2025/05"))
	assert.DirExists(t, filepath.Join(base, "2025/06/01/11"))
	assert.DirExists(t, base)
}

func TestCleanupWorker_RecordsMetrics(t *testing.T) {
	base := t.TempDir()
	makeShotFile(t, base, "2024/01/01/00/00")

	collector := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry(), zap.NewNop())

	worker := NewCleanupWorker(cleanupConfig(), base, collector, zap.NewNop())
	assert.Equal(t, 1, worker.RunOnce(time.Now().UTC()))

	assert.Equal(t, float64(1), collector.CleanupCount())
}

func TestCleanupWorker_MissingBaseDir(t *testing.T) {
	worker := NewCleanupWorker(cleanupConfig(), filepath.Join(t.TempDir(), "missing"), nil, zap.NewNop())
	assert.Equal(t, 0, worker.RunOnce(time.Now().UTC()))
}

func TestCleanupWorker_StartShutdown(t *testing.T) {
	cfg := cleanupConfig()
	cfg.Interval = types.Duration(10 * time.Millisecond)

	base := t.TempDir()
	old := makeShotFile(t, base, "2024/01/01/00/00")

	worker := NewCleanupWorker(cfg, base, nil, zap.NewNop())
	worker.Start()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(old)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	worker.Shutdown()
}

func TestCleanupWorker_Disabled(t *testing.T) {
	cfg := cleanupConfig()
	cfg.Enabled = false

	worker := NewCleanupWorker(cfg, t.TempDir(), nil, zap.NewNop())
	worker.Start()
	worker.Shutdown()
}

func TestParseDirectoryTimestamp(t *testing.T) {
	base := t.TempDir()
	worker := NewCleanupWorker(cleanupConfig(), base, nil, zap.NewNop())

	ts, err := worker.parseDirectoryTimestamp(filepath.Join(base, "2025/03/04/05/06"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 0, 0, time.UTC), ts)

	for _, rel := range []string{"2025", "2025/03/04/05", "2025/13/04/05/06", "2025/03/04/24/00", "abcd/03/04/05/06", "1999/01/01/00/00"} {
		_, err := worker.parseDirectoryTimestamp(filepath.Join(base, rel))
		assert.Error(t, err, rel)
	}
}
