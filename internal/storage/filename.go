package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"storyloom/internal/domain"
)

// Artifact filenames follow <job_id>_scene_<index>.<ext>. The extension decides
// the artifact kind. Overwritten files are kept as <name>.<utc stamp>.bak and
// the per-folder sidecar lives in metadata.json; neither counts as an artifact.

const (
	MetadataFilename = "metadata.json"

	sceneMarker       = "_scene_"
	backupSuffix      = ".bak"
	backupStampLayout = "20060102T150405.000000000"
)

var artifactKindByExt = map[string]domain.ArtifactKind{
	".png":  domain.ArtifactImage,
	".jpg":  domain.ArtifactImage,
	".jpeg": domain.ArtifactImage,
	".webp": domain.ArtifactImage,
	".mp3":  domain.ArtifactAudio,
	".wav":  domain.ArtifactAudio,
	".m4a":  domain.ArtifactAudio,
	".ogg":  domain.ArtifactAudio,
}

// ArtifactRef is a decoded artifact filename. Parsing happens once, here;
// everything downstream works with the typed form.
type ArtifactRef struct {
	JobID      string
	SceneIndex int
	Kind       domain.ArtifactKind
	Filename   string
}

// ArtifactFilename encodes the canonical filename for a scene artifact.
func ArtifactFilename(jobID string, index int, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	return fmt.Sprintf("%s%s%d.%s", jobID, sceneMarker, index, ext)
}

// ParseArtifactFilename decodes name into an ArtifactRef. It reports ok=false
// for the sidecar, backup files, unknown extensions, and anything that does not
// follow the scene naming convention.
func ParseArtifactFilename(name string) (ArtifactRef, bool) {
	if name == MetadataFilename || IsBackupFilename(name) {
		return ArtifactRef{}, false
	}
	ext := strings.ToLower(filepath.Ext(name))
	kind, ok := artifactKindByExt[ext]
	if !ok {
		return ArtifactRef{}, false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	pos := strings.LastIndex(stem, sceneMarker)
	if pos <= 0 {
		return ArtifactRef{}, false
	}
	jobID := stem[:pos]
	index, ok := parseSceneIndex(stem[pos+len(sceneMarker):])
	if !ok {
		return ArtifactRef{}, false
	}
	return ArtifactRef{JobID: jobID, SceneIndex: index, Kind: kind, Filename: name}, true
}

// IsBackupFilename reports whether name is a backup produced by an overwrite.
func IsBackupFilename(name string) bool {
	return strings.HasSuffix(name, backupSuffix)
}

// backupFilename derives the timestamped backup name for an overwrite of name.
func backupFilename(name string, at time.Time) string {
	return name + "." + at.UTC().Format(backupStampLayout) + backupSuffix
}

// parseSceneIndex accepts plain non-negative decimal digits only, so stray
// names like "x_scene_-1.png" or "x_scene_1e2.png" never decode.
func parseSceneIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n < 0 {
			return 0, false
		}
	}
	return n, true
}
