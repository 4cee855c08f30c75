package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"cardsmith/internal/http/handlers"
	"cardsmith/internal/middleware"
)

// Options configures the API router.
type Options struct {
	Logger zerolog.Logger
	// AssetDir, when non-empty, is served under /assets/ for locally stored
	// card artwork.
	AssetDir       string
	AllowedOrigins []string
	// RateLimit bounds requests per client IP per minute. Zero disables it.
	RateLimit int
}

// NewRouter assembles the backend API surface.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}
	if opts.RateLimit > 0 {
		r.Use(middleware.RateLimit(opts.RateLimit, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.CreateJob)
	})
	r.Get("/v1/job-status/{id}", app.JobStatus)
	r.Post("/v1/store-job-result", app.StoreJobResult)

	r.Route("/v1/cards", func(r chi.Router) {
		r.Post("/store", app.StoreCard)
		r.Get("/{slug}", app.GetCard)
	})

	r.Post("/v1/assets", app.UploadAsset)
	if opts.AssetDir != "" {
		fs := http.StripPrefix("/assets/", http.FileServer(http.Dir(opts.AssetDir)))
		r.Get("/assets/*", fs.ServeHTTP)
	}

	return r
}
