package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"soradesk/internal/events"
	"soradesk/internal/http/handlers"
	"soradesk/internal/infra"
	"soradesk/internal/middleware"
)

// NewRouter assembles the sidecar's HTTP surface: the job queue API, the
// gallery API, prompt enhancement, the websocket event stream and health.
func NewRouter(app *handlers.App, ws *events.Handler, allowedOrigins []string, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(allowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.JobsSubmit)
		r.Get("/", app.JobsList)
		r.Post("/clear-completed", app.JobsClearCompleted)
		r.Delete("/{id}", app.JobsRemove)
	})

	r.Route("/v1/generations", func(r chi.Router) {
		r.Get("/", app.GenerationsList)
		r.Get("/export", app.GenerationsExport)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", app.GenerationsDelete)
			r.Get("/video", app.GenerationVideo)
			r.Get("/thumbnail", app.GenerationThumbnail)
			r.Put("/thumbnail", app.GenerationThumbnailUpload)
		})
	})

	r.Post("/v1/prompt/enhance", app.PromptEnhance)

	r.Get("/v1/events", ws.ServeWS)

	return r
}
