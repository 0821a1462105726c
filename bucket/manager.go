// Package bucket implements the File Manager half of section 4.1: it
// layers the four logical roles (uploads/processing/json/processed) over
// physical bucket names from Settings, and applies the extension/size
// validation rules on top of a blobstore.Backend.
package bucket

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/gurre/convopipe/blobstore"
	"github.com/gurre/convopipe/config"
)

// Manager is the File Manager from section 4.1. The role->bucket map lives
// only here, per the design note in section 9.
type Manager struct {
	backend  blobstore.Backend
	settings *config.Settings
}

// New constructs a Manager bound to a backend and the live Settings (read
// for bucket names and size limits on every call, so control-plane
// mutations take effect without reconstruction).
func New(backend blobstore.Backend, settings *config.Settings) *Manager {
	return &Manager{backend: backend, settings: settings}
}

// EnsureBuckets creates all four logical buckets if absent, as required by
// section 3 "created on startup if absent".
func (m *Manager) EnsureBuckets(ctx context.Context) error {
	for _, role := range []config.BucketRole{config.RoleUploads, config.RoleProcessing, config.RoleJSON, config.RoleProcessed} {
		if err := m.backend.EnsureBucket(ctx, m.settings.BucketName(role)); err != nil {
			return fmt.Errorf("failed to ensure bucket for role %s: %w", role, err)
		}
	}
	return nil
}

// ListAudio enumerates names in role filtered by the allowed extension set,
// as required by section 4.1 listAudio.
func (m *Manager) ListAudio(ctx context.Context, role config.BucketRole) ([]string, error) {
	names, err := m.backend.List(ctx, m.settings.BucketName(role))
	if err != nil {
		return nil, fmt.Errorf("failed to list role %s: %w", role, err)
	}
	audio := make([]string, 0, len(names))
	for _, name := range names {
		if config.AudioExtensions[strings.ToLower(filepath.Ext(name))] {
			audio = append(audio, name)
		}
	}
	return audio, nil
}

// Validate checks extension, existence, and size bounds per section 4.1
// validate(role, name): extension allowed, object exists, size > 0 and <=
// maxFileSizeBytes.
func (m *Manager) Validate(ctx context.Context, role config.BucketRole, name string) bool {
	if !config.AudioExtensions[strings.ToLower(filepath.Ext(name))] {
		return false
	}
	info, err := m.backend.Stat(ctx, m.settings.BucketName(role), name)
	if err != nil {
		return false
	}
	if info.Size <= 0 || info.Size > m.settings.MaxFileSizeBytes {
		return false
	}
	return true
}

// Move relocates name from srcRole to dstRole, delegating the crash-visible
// move semantics to the backend (section 4.1).
func (m *Manager) Move(ctx context.Context, srcRole, dstRole config.BucketRole, name string) error {
	if err := m.backend.Move(ctx, m.settings.BucketName(srcRole), m.settings.BucketName(dstRole), name); err != nil {
		return fmt.Errorf("failed to move %s from %s to %s: %w", name, srcRole, dstRole, err)
	}
	return nil
}

// Size returns the byte size of name in role.
func (m *Manager) Size(ctx context.Context, role config.BucketRole, name string) (int64, error) {
	info, err := m.backend.Stat(ctx, m.settings.BucketName(role), name)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s in %s: %w", name, role, err)
	}
	return info.Size, nil
}

// ReadBytes fetches the full contents of name in role.
func (m *Manager) ReadBytes(ctx context.Context, role config.BucketRole, name string) ([]byte, error) {
	data, err := m.backend.Read(ctx, m.settings.BucketName(role), name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", name, role, err)
	}
	return data, nil
}

// WriteDocument serializes document as pretty-printed UTF-8 JSON under
// "<stem>.json" in the json role, preserving all fields (section 4.1
// writeDocument).
func (m *Manager) WriteDocument(ctx context.Context, stem string, document any) error {
	data, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document for %s: %w", stem, err)
	}
	name := stem + ".json"
	if err := m.backend.Write(ctx, m.settings.BucketName(config.RoleJSON), name, data); err != nil {
		return fmt.Errorf("failed to write document %s: %w", name, err)
	}
	return nil
}

// Stem returns the filename without its extension, the basis for the
// persisted ResultDocument name (section 3 "<objectStem>.json").
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
