package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"storyloom/internal/reconcile"
	"storyloom/internal/storage"
)

// ReconstructStory rebuilds a story view straight from a job folder's files.
// It is read-only repair tooling: nothing in the folder or the tracker moves.
func (a *App) ReconstructStory(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	area, err := storage.ParseArea(r.URL.Query().Get("area"))
	if err != nil {
		a.fail(w, r, err, "invalid area")
		return
	}

	story, err := a.Engine.Reconstruct(r.Context(), jobID, area)
	if err != nil {
		a.fail(w, r, err, "story folder not found")
		return
	}

	a.Metrics.Reconstruction()
	a.json(w, http.StatusOK, toStoryViewDTO(story))
}

// MigrateStories scans an area (the saved backlog by default) and imports
// every folder the catalog does not know yet. Per-folder failures are reported
// in the outcome list, not as a request failure.
func (a *App) MigrateStories(w http.ResponseWriter, r *http.Request) {
	if a.Catalog == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "saved story catalog requires a database")
		return
	}

	area := storage.AreaSaved
	if raw := r.URL.Query().Get("area"); raw != "" {
		parsed, err := storage.ParseArea(raw)
		if err != nil {
			a.fail(w, r, err, "invalid area")
			return
		}
		area = parsed
	}

	outcomes, err := a.Engine.ScanAndMigrate(r.Context(), area)
	if err != nil {
		a.fail(w, r, err, "migration scan failed")
		return
	}

	migrated := 0
	for _, outcome := range outcomes {
		if outcome.Action == reconcile.ActionMigrated {
			migrated++
		}
	}
	a.Metrics.StoriesMigrated(migrated)
	a.Logger.Info().
		Int("scanned", len(outcomes)).
		Int("migrated", migrated).
		Str("user_id", a.currentUserID(r)).
		Msg("migration scan complete")
	a.json(w, http.StatusOK, map[string]any{
		"items":    outcomes,
		"migrated": migrated,
	})
}
