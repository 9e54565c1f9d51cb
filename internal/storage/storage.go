// Package storage persists whole documents under string keys.
//
// Two backends are provided: LocalStorage on the filesystem and R2Storage
// on Cloudflare R2 or any other S3-compatible endpoint. A Put on either
// backend replaces the object atomically, so readers observe the previous
// document or the new one and never a partial write.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Storage is a key/document store.
type Storage interface {
	// Put stores data at key. With Overwrite unset an existing key fails
	// with ErrKeyExists.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get returns the document at key. The caller closes the reader.
	// A missing key fails with ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// PutOptions configures how an object is stored.
type PutOptions struct {
	ContentType string
	MaxSize     int64 // 0 means unlimited
	Overwrite   bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	BasePath string
}

// R2Config holds configuration for R2 or another S3-compatible store.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Endpoint overrides the R2 endpoint derived from AccountID, for
	// MinIO or AWS S3 proper.
	Endpoint string

	// Region defaults to "auto", which R2 accepts.
	Region string
}

const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// DefaultSceneStateKey is where the scene timeline document lives.
const DefaultSceneStateKey = "scene_states.json"

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNotFound     = errors.New("object not found")
	ErrKeyExists    = errors.New("object already exists at this key")
	ErrInvalidKey   = errors.New("invalid storage key")
	ErrTooLarge     = errors.New("object exceeds maximum size")
	ErrAccessDenied = errors.New("access denied")
)

// StorageError records the operation and key of a failed call.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
