// Package identity describes how this server presents itself: where it keeps
// artifacts, the URL it is reachable at, the signature sent in the Server
// header and the seed mixed into freshness tokens.
package identity

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/edgecomet/webshot/internal/common/config"
)

// Version is the service version reported in the signature and /info
const Version = "1.0.0"

const seedPrefixLength = 8

// ServerIdentity is built once at startup and shared read-only
type ServerIdentity struct {
	ID            string `json:"id"`
	BaseDirectory string `json:"-"`
	BaseURL       string `json:"base_url"`
	Signature     string `json:"signature"`
	Version       string `json:"version"`
	etagSeed      string
}

// New derives the identity from configuration. When no etag_seed is configured a
// random one is generated, so tokens issued before a restart stop matching.
func New(cfg *config.WSConfig) (*ServerIdentity, error) {
	baseDir, err := filepath.Abs(cfg.Server.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base_dir: %w", err)
	}

	signature := cfg.Server.Signature
	if signature == "" {
		signature = fmt.Sprintf("webshot/%s (%s)", Version, cfg.Server.ID)
	}

	baseURL := strings.TrimSuffix(cfg.Server.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Server.Listen)
	}

	seed := cfg.Server.ETagSeed
	if seed == "" {
		seed = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	return &ServerIdentity{
		ID:            cfg.Server.ID,
		BaseDirectory: baseDir,
		BaseURL:       baseURL,
		Signature:     signature,
		Version:       Version,
		etagSeed:      seed,
	}, nil
}

// ETagSeed returns the seed prefix used in freshness tokens
func (si *ServerIdentity) ETagSeed() string {
	if len(si.etagSeed) > seedPrefixLength {
		return si.etagSeed[:seedPrefixLength]
	}
	return si.etagSeed
}

func defaultBaseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://localhost"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
