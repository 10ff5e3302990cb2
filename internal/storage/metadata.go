package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"storyloom/internal/domain"
)

// Well-known sidecar keys. The sidecar is schemaless beyond these; callers may
// merge in arbitrary top-level keys of their own.
const (
	MetaCreatedAt  = "created_at"
	MetaUpdatedAt  = "updated_at"
	MetaTitle      = "title"
	MetaGradeLevel = "grade_level"
	MetaLocale     = "locale"
	MetaSourceName = "source_name"
	MetaPromotedAt = "promoted_at"
	MetaOriginalID = "original_id"

	metaVersions = "versions"
)

func (s *FileStore) readSidecar(dir string) (map[string]any, error) {
	full := filepath.Join(dir, MetadataFilename)
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, &domain.StorageError{Op: "read sidecar", Path: full, Err: err}
	}
	meta := map[string]any{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: sidecar %s: %w", full, domain.ErrMalformed)
	}
	return meta, nil
}

func (s *FileStore) writeSidecar(dir string, meta map[string]any) error {
	full := filepath.Join(dir, MetadataFilename)
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode sidecar: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return &domain.StorageError{Op: "write sidecar", Path: full, Err: err}
	}
	return nil
}

// recordBackup appends a version-history entry for filename to the sidecar.
func (s *FileStore) recordBackup(dir, filename, backup string) error {
	meta, err := s.readSidecar(dir)
	if err != nil {
		return err
	}
	versions, _ := meta[metaVersions].(map[string]any)
	if versions == nil {
		versions = map[string]any{}
	}
	history, _ := versions[filename].([]any)
	versions[filename] = append(history, map[string]any{
		"backup":      backup,
		"replaced_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	meta[metaVersions] = versions
	meta[MetaUpdatedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	return s.writeSidecar(dir, meta)
}

// mergeMetadata applies patch onto meta: top-level keys overwrite, nothing
// recurses.
func mergeMetadata(meta, patch map[string]any) {
	for k, v := range patch {
		meta[k] = v
	}
}

// CreatedAtFrom extracts the folder creation timestamp from sidecar metadata.
func CreatedAtFrom(meta map[string]any) (time.Time, bool) {
	raw, ok := meta[MetaCreatedAt].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// TitleFrom extracts the display title from sidecar metadata.
func TitleFrom(meta map[string]any) (string, bool) {
	raw, ok := meta[MetaTitle].(string)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
