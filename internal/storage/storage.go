// Package storage publishes bundle files to a distribution target: a local
// directory served by a web server or an S3-compatible bucket behind a CDN.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
)

var (
	// ErrObjectNotFound is returned when removing a key that was never published
	ErrObjectNotFound = errors.New("object not found")

	// ErrTargetUnavailable is returned by Check when the target cannot accept bundles
	ErrTargetUnavailable = errors.New("publish target unavailable")
)

const (
	// ImmutableCacheControl is sent with content-hashed files. Their names
	// change whenever their content does.
	ImmutableCacheControl = "public, max-age=31536000, immutable"

	// RevalidateCacheControl is sent with every other file.
	RevalidateCacheControl = "public, max-age=0, must-revalidate"
)

// Object is a published file.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	CacheControl string    `json:"cache_control,omitempty"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag,omitempty"`
}

// Provider stores published files under slash separated keys.
type Provider interface {
	Name() string
	// Check verifies that the target exists and accepts writes.
	Check(ctx context.Context) error
	// Put stores data under key with the headers of ContentType and
	// CacheControl.
	Put(ctx context.Context, key string, data io.Reader, size int64) (*Object, error)
	Has(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
	// Keys lists every object whose key starts with prefix, ordered by key.
	Keys(ctx context.Context, prefix string) ([]Object, error)
}

// ContentType returns the Content-Type header a file is served with.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".js", ".mjs":
		return "application/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".json", ".map":
		return "application/json"
	case ".html":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// CacheControl returns the Cache-Control header a file is served with.
func CacheControl(key string) string {
	if naming.IsHashedJS(path.Base(key)) {
		return ImmutableCacheControl
	}
	return RevalidateCacheControl
}
