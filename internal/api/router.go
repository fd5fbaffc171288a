package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string

	// OutputDir is served read-only under PublicBasePath.
	OutputDir      string
	PublicBasePath string

	// RequestTimeout bounds /v1 handlers. Static file streaming is not bounded.
	RequestTimeout time.Duration
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Range"},
		ExposedHeaders:   []string{"Content-Disposition", "Content-Length", "Content-Range"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		// Videos
		r.Post("/videos", h.CreateVideo)
		r.Get("/videos", h.ListVideos)
		r.Get("/videos/{id}/download", h.DownloadVideo)

		// Jobs
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
	})

	// Finished videos and their sidecars, with range support for streaming
	if cfg.OutputDir != "" {
		base := "/" + strings.Trim(cfg.PublicBasePath, "/")
		if base == "/" {
			base = "/videos"
		}
		files := http.StripPrefix(base, http.FileServer(http.Dir(cfg.OutputDir)))
		r.With(MediaOnly).Get(base+"/*", files.ServeHTTP)
	}

	return r
}
