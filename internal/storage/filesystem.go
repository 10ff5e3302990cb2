package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"storyloom/internal/domain"
)

// Area selects one of the two artifact trees a job folder can live in.
// Working folders are in-flight and sweepable; saved folders are permanent.
type Area string

const (
	AreaWorking Area = "working"
	AreaSaved   Area = "saved"
)

// ParseArea validates a caller-supplied area name, defaulting to working.
func ParseArea(s string) (Area, error) {
	switch Area(strings.TrimSpace(s)) {
	case "", AreaWorking:
		return AreaWorking, nil
	case AreaSaved:
		return AreaSaved, nil
	default:
		return "", fmt.Errorf("storage: area %q: %w", s, domain.ErrMalformed)
	}
}

// FileStore keeps per-job artifact folders on the local filesystem, one
// directory per job id under each area root.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath and ensures both
// area roots exist.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	for _, area := range []Area{AreaWorking, AreaSaved} {
		if err := os.MkdirAll(filepath.Join(basePath, string(area)), 0o755); err != nil {
			return nil, fmt.Errorf("storage: ensure area root: %w", err)
		}
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// CreateJobFolder creates the working folder for a job and seeds its sidecar
// with the creation timestamp plus the given metadata. A second create for the
// same id fails with domain.ErrAlreadyExists.
func (s *FileStore) CreateJobFolder(ctx context.Context, jobID string, meta map[string]any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	dir, err := s.jobPath(AreaWorking, jobID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("storage: job folder %s: %w", jobID, domain.ErrAlreadyExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &domain.StorageError{Op: "stat job folder", Path: dir, Err: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.StorageError{Op: "create job folder", Path: dir, Err: err}
	}
	now := time.Now().UTC()
	sidecar := map[string]any{
		MetaCreatedAt: now.Format(time.RFC3339Nano),
		MetaUpdatedAt: now.Format(time.RFC3339Nano),
	}
	mergeMetadata(sidecar, meta)
	return s.writeSidecar(dir, sidecar)
}

// SaveArtifact writes data under the job folder and returns the storage
// reference (area/job/filename). An existing file is never overwritten in
// place: it is first renamed to a timestamped backup and the replacement is
// recorded in the sidecar version history.
func (s *FileStore) SaveArtifact(ctx context.Context, jobID string, area Area, filename string, data []byte) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	dir, err := s.jobPath(area, jobID)
	if err != nil {
		return "", err
	}
	name, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("storage: job folder %s: %w", jobID, domain.ErrNotFound)
		}
		return "", &domain.StorageError{Op: "stat job folder", Path: dir, Err: err}
	}
	full := filepath.Join(dir, name)
	if _, err := os.Stat(full); err == nil {
		backup := backupFilename(name, time.Now())
		if err := os.Rename(full, filepath.Join(dir, backup)); err != nil {
			return "", &domain.StorageError{Op: "back up artifact", Path: full, Err: err}
		}
		if err := s.recordBackup(dir, name, backup); err != nil {
			return "", err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", &domain.StorageError{Op: "stat artifact", Path: full, Err: err}
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", &domain.StorageError{Op: "write artifact", Path: full, Err: err}
	}
	return path.Join(string(area), jobID, name), nil
}

// ReadArtifact returns the stored bytes for one artifact.
func (s *FileStore) ReadArtifact(ctx context.Context, jobID string, area Area, filename string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	dir, err := s.jobPath(area, jobID)
	if err != nil {
		return nil, err
	}
	name, err := sanitizeFilename(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: artifact %s/%s: %w", jobID, name, domain.ErrNotFound)
		}
		return nil, &domain.StorageError{Op: "read artifact", Path: filepath.Join(dir, name), Err: err}
	}
	return data, nil
}

// ArtifactEntry is one regular file inside a job folder, before any filename
// decoding. Sidecar and backup files are included; callers that only want
// scene artifacts run the name through ParseArtifactFilename.
type ArtifactEntry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ListArtifacts enumerates the regular files of one job folder.
func (s *FileStore) ListArtifacts(ctx context.Context, jobID string, area Area) ([]ArtifactEntry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	dir, err := s.jobPath(area, jobID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: job folder %s: %w", jobID, domain.ErrNotFound)
		}
		return nil, &domain.StorageError{Op: "list job folder", Path: dir, Err: err}
	}
	out := make([]ArtifactEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, &domain.StorageError{Op: "stat entry", Path: filepath.Join(dir, entry.Name()), Err: err}
		}
		out = append(out, ArtifactEntry{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return out, nil
}

// DeleteJobFolder removes a job folder and everything in it. Deleting a folder
// that does not exist is a no-op.
func (s *FileStore) DeleteJobFolder(ctx context.Context, jobID string, area Area) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	dir, err := s.jobPath(area, jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return &domain.StorageError{Op: "delete job folder", Path: dir, Err: err}
	}
	return nil
}

// PromoteToSaved moves a job folder from the working area into the saved area,
// optionally under a new id, and stamps the promotion into the sidecar. An
// existing saved folder under the target id is replaced.
func (s *FileStore) PromoteToSaved(ctx context.Context, jobID, savedID string) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	if savedID == "" {
		savedID = jobID
	}
	src, err := s.jobPath(AreaWorking, jobID)
	if err != nil {
		return "", err
	}
	dst, err := s.jobPath(AreaSaved, savedID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("storage: job folder %s: %w", jobID, domain.ErrNotFound)
		}
		return "", &domain.StorageError{Op: "stat job folder", Path: src, Err: err}
	}
	if err := os.RemoveAll(dst); err != nil {
		return "", &domain.StorageError{Op: "clear saved folder", Path: dst, Err: err}
	}
	if err := os.Rename(src, dst); err != nil {
		return "", &domain.StorageError{Op: "promote job folder", Path: src, Err: err}
	}
	_, err = s.UpdateMetadata(ctx, savedID, AreaSaved, map[string]any{
		MetaPromotedAt: time.Now().UTC().Format(time.RFC3339Nano),
		MetaOriginalID: jobID,
	})
	if err != nil {
		return "", err
	}
	return path.Join(string(AreaSaved), savedID), nil
}

// Metadata returns the sidecar contents for a job folder. A folder without a
// sidecar yields an empty map; a missing folder is an error.
func (s *FileStore) Metadata(ctx context.Context, jobID string, area Area) (map[string]any, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	dir, err := s.jobPath(area, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: job folder %s: %w", jobID, domain.ErrNotFound)
		}
		return nil, &domain.StorageError{Op: "stat job folder", Path: dir, Err: err}
	}
	return s.readSidecar(dir)
}

// UpdateMetadata applies a shallow merge onto the sidecar: top-level keys from
// patch overwrite, everything else is preserved. The sidecar is created when
// absent and updated_at is bumped on every call.
func (s *FileStore) UpdateMetadata(ctx context.Context, jobID string, area Area, patch map[string]any) (map[string]any, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	dir, err := s.jobPath(area, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: job folder %s: %w", jobID, domain.ErrNotFound)
		}
		return nil, &domain.StorageError{Op: "stat job folder", Path: dir, Err: err}
	}
	meta, err := s.readSidecar(dir)
	if err != nil {
		return nil, err
	}
	mergeMetadata(meta, patch)
	meta[MetaUpdatedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.writeSidecar(dir, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// JobFolder is one per-job directory inside an area root.
type JobFolder struct {
	ID      string
	ModTime time.Time
}

// JobFolders enumerates the job directories of an area.
func (s *FileStore) JobFolders(ctx context.Context, area Area) ([]JobFolder, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	root := filepath.Join(s.basePath, string(area))
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &domain.StorageError{Op: "list area", Path: root, Err: err}
	}
	out := make([]JobFolder, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, &domain.StorageError{Op: "stat job folder", Path: filepath.Join(root, entry.Name()), Err: err}
		}
		out = append(out, JobFolder{ID: entry.Name(), ModTime: info.ModTime()})
	}
	return out, nil
}

func (s *FileStore) check(ctx context.Context) error {
	if s == nil {
		return errors.New("storage: no store configured")
	}
	return ctx.Err()
}

// jobPath resolves the directory for a job id, refusing ids that could escape
// the area root.
func (s *FileStore) jobPath(area Area, jobID string) (string, error) {
	if area != AreaWorking && area != AreaSaved {
		return "", fmt.Errorf("storage: area %q: %w", area, domain.ErrMalformed)
	}
	id, err := sanitizePathElement(jobID, "job id")
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, string(area), id), nil
}

func sanitizeFilename(name string) (string, error) {
	return sanitizePathElement(name, "filename")
}

// sanitizePathElement accepts a single path element and nothing else.
func sanitizePathElement(raw, what string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" || v == "." || v == ".." {
		return "", fmt.Errorf("storage: %s %q: %w", what, raw, domain.ErrMalformed)
	}
	if strings.ContainsAny(v, `/\`) {
		return "", fmt.Errorf("storage: %s %q: %w", what, raw, domain.ErrMalformed)
	}
	return v, nil
}
