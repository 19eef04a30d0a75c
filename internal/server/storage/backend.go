// Package storage abstracts the two storage tiers a file moves through and
// resolves which of them currently holds a file's bytes.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo is what a backend reports about a stored object. MD5 is empty
// when the backend cannot report a content digest.
type ObjectInfo struct {
	Size int64
	MD5  string
}

// Usage is a raw capacity measurement. Values are reported as-is; callers
// must not assume Used <= Total.
type Usage struct {
	UsedBytes   uint64
	TotalBytes  uint64
	UsedInodes  uint64
	TotalInodes uint64
}

// Backend stores opaque objects addressed by key (the File UUID).
type Backend interface {
	Name() string
	// Put stores exactly size bytes read from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Get writes the object to w. Missing keys return common.ErrObjectNotFound.
	Get(ctx context.Context, key string, w io.Writer) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Stat verifies presence. Missing keys return common.ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Usage(ctx context.Context) (Usage, error)
}

// Presigner is implemented by backends that clients can upload to directly.
type Presigner interface {
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
}
