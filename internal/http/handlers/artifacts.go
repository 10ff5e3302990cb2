package handlers

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"storyloom/internal/storage"
)

// Artifact uploads land in the working area only; promotion is the one path
// into saved.
const maxArtifactBytes = 64 << 20

var contentTypeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
}

// SaveArtifact stores one generated file under the job's working folder. The
// filename must follow the scene naming convention and belong to the job in
// the path; an existing file is backed up, never clobbered.
func (a *App) SaveArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	filename := chi.URLParam(r, "filename")

	ref, ok := storage.ParseArtifactFilename(filename)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "filename does not follow the scene naming convention")
		return
	}
	if ref.JobID != jobID {
		a.error(w, http.StatusBadRequest, "bad_request", "filename encodes a different job id")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArtifactBytes))
	if err != nil {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "artifact exceeds the size limit")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "empty artifact body")
		return
	}

	storageRef, err := a.Store.SaveArtifact(r.Context(), jobID, storage.AreaWorking, filename, data)
	if err != nil {
		a.fail(w, r, err, "failed to save artifact")
		return
	}

	a.Logger.Info().
		Str("job_id", jobID).
		Str("file", filename).
		Int("bytes", len(data)).
		Msg("artifact stored")
	a.json(w, http.StatusOK, map[string]any{"ref": storageRef})
}

// ServeArtifact streams a stored artifact back, from either area.
func (a *App) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	filename := chi.URLParam(r, "filename")
	area, err := storage.ParseArea(r.URL.Query().Get("area"))
	if err != nil {
		a.fail(w, r, err, "invalid area")
		return
	}

	data, err := a.Store.ReadArtifact(r.Context(), jobID, area, filename)
	if err != nil {
		a.fail(w, r, err, "artifact not found")
		return
	}

	ct := contentTypeByExt[strings.ToLower(filepath.Ext(filename))]
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
