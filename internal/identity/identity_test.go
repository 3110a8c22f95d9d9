package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecomet/webshot/internal/common/config"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name          string
		server        config.ServerConfig
		wantSignature string
		wantBaseURL   string
		wantSeed      string
	}{
		{
			name:          "explicit values",
			server:        config.ServerConfig{ID: "n1", Listen: ":8080", BaseURL: "https://shots.example.com/", BaseDir: dir, Signature: "custom/2", ETagSeed: "abcdef0123456789"},
			wantSignature: "custom/2",
			wantBaseURL:   "https://shots.example.com",
			wantSeed:      "abcdef01",
		},
		{
			name:          "derived values",
			server:        config.ServerConfig{ID: "node-1", Listen: "0.0.0.0:9000", BaseDir: dir, ETagSeed: "short"},
			wantSignature: "webshot/" + Version + " (node-1)",
			wantBaseURL:   "http://localhost:9000",
			wantSeed:      "short",
		},
		{
			name:          "explicit host kept",
			server:        config.ServerConfig{ID: "n", Listen: "10.0.0.5:8080", BaseDir: dir, ETagSeed: "seedseed"},
			wantSignature: "webshot/" + Version + " (n)",
			wantBaseURL:   "http://10.0.0.5:8080",
			wantSeed:      "seedseed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			si, err := New(&config.WSConfig{Server: tt.server})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSignature, si.Signature)
			assert.Equal(t, tt.wantBaseURL, si.BaseURL)
			assert.Equal(t, tt.wantSeed, si.ETagSeed())
			assert.Equal(t, Version, si.Version)
			assert.True(t, filepath.IsAbs(si.BaseDirectory))
		})
	}
}

func TestNew_RandomSeed(t *testing.T) {
	cfg := &config.WSConfig{Server: config.ServerConfig{ID: "n", Listen: ":8080", BaseDir: "data"}}

	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)

	assert.Len(t, a.ETagSeed(), 8)
	assert.NotEqual(t, a.ETagSeed(), b.ETagSeed())
	assert.Equal(t, "data", filepath.Base(a.BaseDirectory))
}
