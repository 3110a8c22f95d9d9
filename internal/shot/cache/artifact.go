package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/edgecomet/webshot/pkg/types"
)

// ErrInvalidArtifact is returned by Store for artifacts missing required fields
var ErrInvalidArtifact = errors.New("invalid artifact")

// Store is one cache tier. Lookup returns (nil, nil) on a miss.
type Store interface {
	Lookup(ctx context.Context, key Key) (*Artifact, error)
	Store(ctx context.Context, artifact *Artifact) error
}

// Artifact is a rendered image plus everything needed to serve it again.
// Artifacts are never modified after being stored.
type Artifact struct {
	Key         Key
	URL         string
	Image       []byte
	Format      string
	Digest      string // XXHash64 of Image, the stable part of the ETag
	Width       int
	Height      int
	StatusCode  int
	RequestID   string
	RenderTime  time.Duration
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Size        int64
	DiskSize    int64
	FilePath    string // relative to the cache base directory, empty for memory-only artifacts
	Compression string
}

// NewArtifact builds an artifact for shot valid for ttl
func NewArtifact(key Key, url string, shot *types.Shot, ttl time.Duration) *Artifact {
	now := time.Now().UTC()
	return &Artifact{
		Key:        key,
		URL:        url,
		Image:      shot.Image,
		Format:     shot.Format,
		Digest:     HashBytes(shot.Image),
		Width:      shot.Width,
		Height:     shot.Height,
		StatusCode: shot.StatusCode,
		RequestID:  shot.RequestID,
		RenderTime: shot.RenderTime,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Size:       int64(len(shot.Image)),
	}
}

// ContentType returns the MIME type of the image
func (a *Artifact) ContentType() string {
	return types.ContentTypeForFormat(a.Format)
}

func (a *Artifact) IsExpired() bool {
	return !time.Now().UTC().Before(a.ExpiresAt)
}

// TTL returns the remaining validity, 0 once expired
func (a *Artifact) TTL() time.Duration {
	if a.IsExpired() {
		return 0
	}
	return a.ExpiresAt.Sub(time.Now().UTC())
}

func (a *Artifact) validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil", ErrInvalidArtifact)
	}
	if a.Key.URLHash == "" || a.Key.OptionsHash == "" {
		return fmt.Errorf("%w: missing key", ErrInvalidArtifact)
	}
	if len(a.Image) == 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidArtifact)
	}
	if !types.IsValidFormat(a.Format) {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidArtifact, a.Format)
	}
	return nil
}

// toHash converts artifact metadata to Redis hash fields; the image itself lives on disk
func (a *Artifact) toHash() map[string]interface{} {
	return map[string]interface{}{
		"key":         a.Key.String(),
		"url":         a.URL,
		"format":      a.Format,
		"digest":      a.Digest,
		"width":       a.Width,
		"height":      a.Height,
		"status_code": a.StatusCode,
		"request_id":  a.RequestID,
		"render_ms":   a.RenderTime.Milliseconds(),
		"created_at":  a.CreatedAt.Unix(),
		"expires_at":  a.ExpiresAt.Unix(),
		"size":        a.Size,
		"disk_size":   a.DiskSize,
		"file_path":   a.FilePath,
		"compression": a.Compression,
	}
}

// fromHash populates artifact metadata from Redis hash fields
func (a *Artifact) fromHash(data map[string]string) error {
	key, err := ParseKey(data["key"])
	if err != nil {
		return err
	}
	a.Key = key
	a.URL = data["url"]
	a.Format = data["format"]
	a.Digest = data["digest"]
	a.RequestID = data["request_id"]
	a.FilePath = data["file_path"]
	a.Compression = data["compression"]

	ints := []struct {
		field string
		dst   *int
	}{
		{"width", &a.Width},
		{"height", &a.Height},
		{"status_code", &a.StatusCode},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(data[f.field])
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.field, err)
		}
		*f.dst = v
	}

	int64s := []struct {
		field string
		dst   *int64
	}{
		{"size", &a.Size},
		{"disk_size", &a.DiskSize},
	}
	for _, f := range int64s {
		v, err := strconv.ParseInt(data[f.field], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.field, err)
		}
		*f.dst = v
	}

	renderMS, err := strconv.ParseInt(data["render_ms"], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid render_ms: %w", err)
	}
	a.RenderTime = time.Duration(renderMS) * time.Millisecond

	createdAt, err := strconv.ParseInt(data["created_at"], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid created_at: %w", err)
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()

	expiresAt, err := strconv.ParseInt(data["expires_at"], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expires_at: %w", err)
	}
	a.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	return nil
}
