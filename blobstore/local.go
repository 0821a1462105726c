package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LocalBackend implements Backend over the local filesystem, each bucket
// argument naming a directory (section 4.1 "local-filesystem variant where
// each bucket is a directory"). Bucket and object names are cleaned as
// rooted paths, so every path stays under the absolute root directory.
type LocalBackend struct {
	root string
}

// NewLocalBackend roots every bucket under root, so callers cannot be
// tricked into touching paths outside the configured storage area.
func NewLocalBackend(root string) (*LocalBackend, error) {
	clean := filepath.Clean(root)
	if !filepath.IsAbs(clean) {
		return nil, fmt.Errorf("local backend root must be absolute: %s", clean)
	}
	if err := os.MkdirAll(clean, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root %s: %w", clean, err)
	}
	return &LocalBackend{root: clean}, nil
}

var _ Backend = (*LocalBackend)(nil)

func (b *LocalBackend) bucketPath(bucket string) string {
	return filepath.Join(b.root, filepath.Clean("/"+bucket))
}

func (b *LocalBackend) objectPath(bucket, name string) string {
	return filepath.Join(b.bucketPath(bucket), filepath.Clean("/"+name))
}

func (b *LocalBackend) EnsureBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(b.bucketPath(bucket), 0755); err != nil {
		return fmt.Errorf("failed to create bucket dir %s: %w", bucket, err)
	}
	return nil
}

func (b *LocalBackend) List(ctx context.Context, bucket string) ([]string, error) {
	entries, err := os.ReadDir(b.bucketPath(bucket))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", bucket, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (b *LocalBackend) Stat(ctx context.Context, bucket, name string) (ObjectInfo, error) {
	info, err := os.Stat(b.objectPath(bucket, name))
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, ErrNotExist
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat %s/%s: %w", bucket, name, err)
	}
	return ObjectInfo{Name: name, Size: info.Size()}, nil
}

func (b *LocalBackend) Read(ctx context.Context, bucket, name string) ([]byte, error) {
	data, err := os.ReadFile(b.objectPath(bucket, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to read %s/%s: %w", bucket, name, err)
	}
	return data, nil
}

func (b *LocalBackend) Write(ctx context.Context, bucket, name string, data []byte) error {
	if err := b.EnsureBucket(ctx, bucket); err != nil {
		return err
	}
	if err := os.WriteFile(b.objectPath(bucket, name), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", bucket, name, err)
	}
	return nil
}

func (b *LocalBackend) Delete(ctx context.Context, bucket, name string) error {
	if err := os.Remove(b.objectPath(bucket, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, name, err)
	}
	return nil
}

// Move renames the object between bucket directories, the atomic local
// equivalent of the object-store copy+delete sequence (section 4.1). A
// second call once the object already sits at the destination is a no-op
// success, satisfying the move idempotence requirement.
func (b *LocalBackend) Move(ctx context.Context, srcBucket, dstBucket, name string) error {
	srcPath := b.objectPath(srcBucket, name)
	dstPath := b.objectPath(dstBucket, name)

	if _, err := os.Stat(srcPath); os.IsNotExist(err) {
		if _, err := os.Stat(dstPath); err == nil {
			return nil
		}
		return ErrNotExist
	}

	if err := b.EnsureBucket(ctx, dstBucket); err != nil {
		return err
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("failed to move %s/%s to %s: %w", srcBucket, name, dstBucket, err)
	}
	return nil
}
