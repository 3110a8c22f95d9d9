package chrome

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestChromeStatus_String(t *testing.T) {
	tests := []struct {
		status   ChromeStatus
		expected string
	}{
		{ChromeStatusIdle, "idle"},
		{ChromeStatusRendering, "rendering"},
		{ChromeStatusRestarting, "restarting"},
		{ChromeStatusDead, "dead"},
		{ChromeStatus(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

// detachedInstance builds an instance without launching a browser
func detachedInstance(createdAt time.Time) *ChromeInstance {
	ctx, cancel := context.WithCancel(context.Background())
	return &ChromeInstance{
		ID:        7,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: createdAt,
		logger:    zap.NewNop(),
	}
}

func TestChromeInstance_RestartReason(t *testing.T) {
	config := DefaultConfig()
	config.RestartAfterCount = 3
	config.RestartAfterTime = time.Hour

	t.Run("terminated instance", func(t *testing.T) {
		ci := detachedInstance(time.Now().UTC())
		ci.Terminate()
		assert.Equal(t, restartDead, ci.restartReason(config))
	})

	t.Run("marked dead", func(t *testing.T) {
		ci := detachedInstance(time.Now().UTC())
		ci.SetStatus(ChromeStatusDead)
		assert.Equal(t, restartDead, ci.restartReason(config))
		assert.False(t, ci.IsAlive())
	})
}

func TestChromeInstance_PolicyReason(t *testing.T) {
	config := DefaultConfig()
	config.RestartAfterCount = 3
	config.RestartAfterTime = time.Hour

	fresh := detachedInstance(time.Now().UTC())
	assert.Empty(t, fresh.policyReason(config))

	used := detachedInstance(time.Now().UTC())
	for i := 0; i < 3; i++ {
		used.markUsed()
	}
	assert.Equal(t, restartRenderCount, used.policyReason(config))

	old := detachedInstance(time.Now().UTC().Add(-2 * time.Hour))
	assert.Equal(t, restartMaxAge, old.policyReason(config))
}

func TestChromeInstance_MarkUsed(t *testing.T) {
	ci := detachedInstance(time.Now().UTC())
	for i := 0; i < 3; i++ {
		ci.markUsed()
	}
	assert.Equal(t, int32(3), ci.GetRequestsDone())
}

func TestChromeInstance_Terminate(t *testing.T) {
	ci := detachedInstance(time.Now().UTC())
	assert.False(t, ci.browserGone())

	ci.Terminate()
	assert.True(t, ci.browserGone())
	assert.Equal(t, ChromeStatusDead, ci.GetStatus())
	assert.False(t, ci.IsAlive())
}

func TestAllocatorOptions(t *testing.T) {
	base := len(allocatorOptions(DefaultConfig()))

	config := DefaultConfig()
	config.UserAgent = "webshot-test"
	assert.Equal(t, base+1, len(allocatorOptions(config)))
}
