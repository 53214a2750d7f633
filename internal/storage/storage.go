// Package storage defines the object-store contract the pipeline writes
// originals and derivatives through, plus an in-memory implementation.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")
)

// WriteOutcome names the two successful results of a write. A conflict with
// an existing object is not an error for content-addressed paths.
type WriteOutcome int

const (
	// Created means the object was written by this call.
	Created WriteOutcome = iota + 1
	// AlreadyExists means an object was already present at the path and the
	// write did not replace it.
	AlreadyExists
)

func (o WriteOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// ImmutableCacheControl is attached to content-addressed derivatives.
const ImmutableCacheControl = "public, max-age=31536000, immutable"

// PutOptions controls a single write.
type PutOptions struct {
	ContentType  string
	CacheControl string

	// Upsert replaces an existing object. When false an existing object wins
	// and the write reports AlreadyExists.
	Upsert bool
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStore is implemented by every backend (MinIO, AWS S3, memory).
type ObjectStore interface {
	// Put streams r to path. size may be -1 when unknown.
	Put(ctx context.Context, path string, r io.Reader, size int64, opts PutOptions) (WriteOutcome, error)
	// Get returns the whole object.
	Get(ctx context.Context, path string) ([]byte, error)
	// Open returns a reader over the object for streaming responses.
	Open(ctx context.Context, path string) (io.ReadCloser, ObjectInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
	// Copy duplicates src to dst server side.
	Copy(ctx context.Context, src, dst string, opts PutOptions) (WriteOutcome, error)
	// List returns objects under prefix whose base name contains search.
	List(ctx context.Context, prefix, search string) ([]ObjectInfo, error)
	Remove(ctx context.Context, paths ...string) error
	PresignGet(ctx context.Context, path string, ttl time.Duration) (string, error)
}
