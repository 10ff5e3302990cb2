package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"storyloom/internal/domain"
	"storyloom/internal/infra"
	"storyloom/internal/middleware"
	"storyloom/internal/reconcile"
	"storyloom/internal/storage"
)

// App carries the wired dependencies every handler needs. Handlers are methods
// so tests can assemble an App from fakes and call them directly.
type App struct {
	Tracker domain.Tracker
	Store   *storage.FileStore
	Catalog domain.SavedStoryStore // nil when running without a database
	Engine  *reconcile.Engine
	Metrics *infra.Metrics
	Logger  infra.Logger
	Cfg     *infra.Config
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": message},
	})
}

// fail translates domain errors into their HTTP shape. Anything unrecognized
// is a 500 and gets logged with the request path.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", message)
	case errors.Is(err, domain.ErrAlreadyExists):
		a.error(w, http.StatusConflict, "already_exists", message)
	case errors.Is(err, domain.ErrMalformed):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", message)
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", message)
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
