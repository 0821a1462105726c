// Package blobstore implements the Storage Backend from section 4.1 of the
// design specification: a capability interface over {create-bucket-if-
// absent, list, stat/exists, read-bytes, write-bytes, delete,
// copy-within-backend}, with an S3-compatible variant and a local-filesystem
// variant where each "bucket" is a directory. Generalizes a dual S3/file
// checkpoint-store pattern from a single get/set-state object to full
// object CRUD.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned by Stat and Read when the named object is absent.
var ErrNotExist = errors.New("blobstore: object does not exist")

// ObjectInfo describes an object's presence and size, enough for
// validate(role, name) in section 4.1.
type ObjectInfo struct {
	Name string
	Size int64
}

// Backend is the capability interface section 4.1 requires every storage
// variant to satisfy. Every method is scoped to one physical bucket; the
// bucket package layers logical roles on top of bucket names.
type Backend interface {
	// EnsureBucket creates the named bucket/directory if absent.
	EnsureBucket(ctx context.Context, bucket string) error

	// List enumerates object names in a bucket.
	List(ctx context.Context, bucket string) ([]string, error)

	// Stat reports size and existence; returns ErrNotExist if absent.
	Stat(ctx context.Context, bucket, name string) (ObjectInfo, error)

	// Read returns the full contents of an object.
	Read(ctx context.Context, bucket, name string) ([]byte, error)

	// Write stores data under name, overwriting any existing object.
	Write(ctx context.Context, bucket, name string, data []byte) error

	// Delete removes an object; a missing object is not an error.
	Delete(ctx context.Context, bucket, name string) error

	// Move relocates an object from srcBucket to dstBucket within the same
	// backend: copy+delete on an object store, atomic rename on the local
	// filesystem (section 4.1). Idempotent: a second call once the object
	// already sits at the destination is a no-op success.
	Move(ctx context.Context, srcBucket, dstBucket, name string) error
}

// readCloserBytes drains an io.ReadCloser into memory and closes it; the
// S3 backend uses it to read SDK response bodies.
func readCloserBytes(rc io.ReadCloser) ([]byte, error) {
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
