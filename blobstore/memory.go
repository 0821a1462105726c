package blobstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend implements Backend entirely in memory, primarily intended
// for tests: a guarded map of buckets in place of a dual S3/file-backed
// store.
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryBackend returns an empty in-memory Backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]map[string][]byte)}
}

var _ Backend = (*MemoryBackend)(nil)

func (b *MemoryBackend) EnsureBucket(ctx context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[bucket]; !ok {
		b.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

func (b *MemoryBackend) List(ctx context.Context, bucket string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.buckets[bucket]))
	for name := range b.buckets[bucket] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *MemoryBackend) Stat(ctx context.Context, bucket, name string) (ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.buckets[bucket][name]
	if !ok {
		return ObjectInfo{}, ErrNotExist
	}
	return ObjectInfo{Name: name, Size: int64(len(data))}, nil
}

func (b *MemoryBackend) Read(ctx context.Context, bucket, name string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.buckets[bucket][name]
	if !ok {
		return nil, ErrNotExist
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (b *MemoryBackend) Write(ctx context.Context, bucket, name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[bucket]; !ok {
		b.buckets[bucket] = make(map[string][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.buckets[bucket][name] = cp
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, bucket, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets[bucket], name)
	return nil
}

func (b *MemoryBackend) Move(ctx context.Context, srcBucket, dstBucket, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.buckets[srcBucket][name]
	if !ok {
		if _, ok := b.buckets[dstBucket][name]; ok {
			return nil
		}
		return ErrNotExist
	}
	if _, ok := b.buckets[dstBucket]; !ok {
		b.buckets[dstBucket] = make(map[string][]byte)
	}
	b.buckets[dstBucket][name] = data
	delete(b.buckets[srcBucket], name)
	return nil
}
