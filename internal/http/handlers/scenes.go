package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storyloom/internal/domain"
)

// ReportSceneImage records an image stage outcome. Reports are idempotent:
// redelivering the same result answers 200 again without moving counters.
func (a *App) ReportSceneImage(w http.ResponseWriter, r *http.Request) {
	a.reportStage(w, r, domain.ArtifactImage)
}

// ReportSceneAudio records an audio stage outcome.
func (a *App) ReportSceneAudio(w http.ResponseWriter, r *http.Request) {
	a.reportStage(w, r, domain.ArtifactAudio)
}

func (a *App) reportStage(w http.ResponseWriter, r *http.Request, kind domain.ArtifactKind) {
	sceneID := chi.URLParam(r, "scene_id")
	var req stageReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	result := domain.StageResult{Status: domain.StageStatus(req.Status), URL: req.URL}

	var scene *domain.Scene
	var err error
	switch kind {
	case domain.ArtifactImage:
		scene, err = a.Tracker.ReportImageResult(r.Context(), sceneID, result)
	default:
		scene, err = a.Tracker.ReportAudioResult(r.Context(), sceneID, result)
	}
	if err != nil {
		a.fail(w, r, err, "failed to report stage result")
		return
	}

	a.Metrics.SceneReport(string(kind), req.Status)
	a.json(w, http.StatusOK, toSceneDTO(scene))
}
