// Package blob stores issued ticket artifacts (small PNG files) behind a
// pluggable backend: local filesystem for development, S3 or MinIO in
// production, in-memory for tests.
package blob

import (
	"context"
	"errors"
)

// Driver identifies a concrete blob storage backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local filesystem (default, dev)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-memory (tests)
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is the interface ticket issuance writes to and the HTTP layer
// reads from. Objects are small and written once, so the whole payload
// travels as a byte slice.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (data []byte, contentType string, err error)
	Delete(ctx context.Context, key string) error
	Driver() Driver
}
