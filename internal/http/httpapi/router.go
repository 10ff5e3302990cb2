package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storyloom/internal/http/handlers"
	"storyloom/internal/middleware"
)

// NewRouter assembles the full HTTP surface. The lookup may be nil, which
// disables the GeoIP step of locale detection.
func NewRouter(app *handlers.App, lookup middleware.CountryLookup) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Cfg.AllowedOrigins),
	)
	if app.Cfg.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute))
	}
	r.Use(
		middleware.Locale(app.Cfg.DefaultLocale, app.Cfg.SupportedLocales, lookup),
		middleware.UserContext,
	)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/stories", func(r chi.Router) {
		r.Post("/", app.CreateStory)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", app.GetStory)
			r.Put("/metadata", app.SetStoryMetadata)
			r.Post("/fail", app.FailStory)
			r.Get("/scenes", app.ListStoryScenes)
			r.Post("/scenes", app.RegisterScene)
			r.Put("/artifacts/{filename}", app.SaveArtifact)
			r.Get("/artifacts/{filename}", app.ServeArtifact)
			r.Get("/export", app.ExportStory)
			r.With(middleware.RequireUser).Post("/save", app.SaveStory)
		})
	})

	r.Route("/v1/scenes/{scene_id}", func(r chi.Router) {
		r.Post("/image", app.ReportSceneImage)
		r.Post("/audio", app.ReportSceneAudio)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(middleware.RequireRole("admin"))
		r.Post("/stories/{job_id}/reconstruct", app.ReconstructStory)
		r.Post("/migrate", app.MigrateStories)
	})

	return r
}
