package blobstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	if err := b.Write(ctx, "uploads", "a.wav", []byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := b.Read(ctx, "uploads", "a.wav")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("Read = %q, want %q", got, "data")
	}
}

func TestMemoryBackendMove(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	if err := b.Write(ctx, "uploads", "a.wav", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Move(ctx, "uploads", "processing", "a.wav"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := b.Read(ctx, "uploads", "a.wav"); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected source removed, got %v", err)
	}
	if _, err := b.Read(ctx, "processing", "a.wav"); err != nil {
		t.Errorf("expected object at destination: %v", err)
	}
}

func TestMemoryBackendMoveMissingIsError(t *testing.T) {
	b := NewMemoryBackend()
	if err := b.Move(context.Background(), "uploads", "processing", "missing.wav"); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}
