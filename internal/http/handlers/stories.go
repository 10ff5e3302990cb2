package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storyloom/internal/domain"
	"storyloom/internal/middleware"
	"storyloom/internal/storage"
	"storyloom/pkg/zip"
)

// CreateStory opens a new story job: a tracker row plus its working folder.
// The folder sidecar receives the seed context so reconstruction and retention
// can work from files alone.
func (a *App) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req createStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Locale == "" {
		req.Locale = middleware.LocaleFromContext(r.Context())
	}

	job, err := a.Tracker.CreateJob(r.Context(), domain.JobSeed{
		ID:         req.ID,
		GradeLevel: req.GradeLevel,
		Locale:     req.Locale,
		SourceName: req.SourceName,
	})
	if err != nil {
		a.fail(w, r, err, "failed to create story job")
		return
	}

	meta := map[string]any{
		storage.MetaGradeLevel: req.GradeLevel,
		storage.MetaLocale:     req.Locale,
		storage.MetaSourceName: req.SourceName,
	}
	if err := a.Store.CreateJobFolder(r.Context(), job.ID, meta); err != nil {
		a.fail(w, r, err, "failed to create story folder")
		return
	}

	a.Metrics.JobCreated()
	a.Logger.Info().Str("job_id", job.ID).Str("locale", req.Locale).Msg("story job created")
	a.json(w, http.StatusCreated, toJobDTO(job))
}

// SetStoryMetadata records the generated title and scene count once planning
// finishes. Callers may call again to overwrite; completion is re-derived from
// the fresh total in the same transaction.
func (a *App) SetStoryMetadata(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req storyMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.TotalScenes < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "total_scenes must not be negative")
		return
	}

	job, err := a.Tracker.SetJobMetadata(r.Context(), jobID, req.Title, req.TotalScenes)
	if err != nil {
		a.fail(w, r, err, "failed to set story metadata")
		return
	}

	// Mirror the title into the sidecar so file-only reconstruction can name
	// the story. The tracker row stays authoritative, so a folder that is
	// already gone only logs.
	if req.Title != "" {
		patch := map[string]any{storage.MetaTitle: req.Title}
		if _, err := a.Store.UpdateMetadata(r.Context(), jobID, storage.AreaWorking, patch); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("sidecar title update failed")
		}
	}

	a.json(w, http.StatusOK, toJobDTO(job))
}

// FailStory marks a job permanently failed. Failing an unknown or already
// failed job is a no-op so pipeline retries stay safe.
func (a *App) FailStory(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req failStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Reason == "" {
		req.Reason = "unspecified"
	}

	if err := a.Tracker.MarkJobFailed(r.Context(), jobID, req.Reason); err != nil {
		a.fail(w, r, err, "failed to mark story failed")
		return
	}

	a.Metrics.JobFailed()
	a.Logger.Info().Str("job_id", jobID).Str("reason", req.Reason).Msg("story job failed")
	w.WriteHeader(http.StatusNoContent)
}

// GetStory is the polling contract: current status plus progress counters.
func (a *App) GetStory(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Tracker.GetJob(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err, "story not found")
		return
	}
	a.json(w, http.StatusOK, toJobDTO(job))
}

// ListStoryScenes returns every registered scene with stage detail.
func (a *App) ListStoryScenes(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := a.Tracker.GetJob(r.Context(), jobID); err != nil {
		a.fail(w, r, err, "story not found")
		return
	}
	scenes, err := a.Tracker.ListScenes(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err, "failed to list scenes")
		return
	}
	items := make([]sceneDTO, 0, len(scenes))
	for i := range scenes {
		items = append(items, toSceneDTO(&scenes[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// RegisterScene adds one scene to a job. Re-registering the same index updates
// the text and returns the same scene identity.
func (a *App) RegisterScene(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req registerSceneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Index == nil {
		a.error(w, http.StatusBadRequest, "bad_request", "index required")
		return
	}
	if *req.Index < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "index must not be negative")
		return
	}

	scene, err := a.Tracker.RegisterScene(r.Context(), &domain.Scene{
		JobID:           jobID,
		Index:           *req.Index,
		Text:            req.Text,
		CharacterPrompt: req.CharacterPrompt,
	})
	if err != nil {
		a.fail(w, r, err, "failed to register scene")
		return
	}
	a.json(w, http.StatusOK, toSceneDTO(scene))
}

// SaveStory promotes the working folder into the saved area, optionally under
// a caller-chosen id. The saved catalog row is created later by the migration
// scan, which is also what backfills folders saved before the catalog existed.
func (a *App) SaveStory(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	savedID := r.URL.Query().Get("as")

	ref, err := a.Store.PromoteToSaved(r.Context(), jobID, savedID)
	if err != nil {
		a.fail(w, r, err, "failed to save story")
		return
	}
	if savedID == "" {
		savedID = jobID
	}

	a.Logger.Info().
		Str("job_id", jobID).
		Str("saved_id", savedID).
		Str("user_id", a.currentUserID(r)).
		Msg("story promoted to saved")
	a.json(w, http.StatusOK, map[string]any{
		"ref":         ref,
		"saved_id":    savedID,
		"original_id": jobID,
	})
}

// ExportStory streams a zip of the job's current artifacts. Backups and the
// sidecar are left out; the archive mirrors what a reader would see.
func (a *App) ExportStory(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	area, err := storage.ParseArea(r.URL.Query().Get("area"))
	if err != nil {
		a.fail(w, r, err, "invalid area")
		return
	}

	entries, err := a.Store.ListArtifacts(r.Context(), jobID, area)
	if err != nil {
		a.fail(w, r, err, "story folder not found")
		return
	}

	var files []zip.Entry
	for _, entry := range entries {
		if entry.Name == storage.MetadataFilename || storage.IsBackupFilename(entry.Name) {
			continue
		}
		data, err := a.Store.ReadArtifact(r.Context(), jobID, area, entry.Name)
		if err != nil {
			a.fail(w, r, err, "failed to read artifact")
			return
		}
		files = append(files, zip.Entry{Name: entry.Name, Data: data})
	}

	archive, err := zip.Archive(files)
	if err != nil {
		a.fail(w, r, err, "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename=story-`+jobID+`.zip`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
