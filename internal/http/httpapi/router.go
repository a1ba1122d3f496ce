package httpapi

import (
	"net/http"
	"time"

	"continuity/internal/http/handlers"
	"continuity/internal/infra"
	mw "continuity/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options configures the cross-cutting middleware of the API.
type Options struct {
	Logger          infra.Logger
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int

	// TrustProxy rewrites RemoteAddr from X-Forwarded-For and X-Real-IP.
	TrustProxy bool

	// StaticDir is served under /static when artifacts live on local disk.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(
		middleware.Recoverer,
		mw.Logger(opts.Logger),
		mw.CORS(opts.CORSOrigins),
		mw.Identity(opts.JWTSecret),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/subscription", app.Subscription)

		submitLimit := mw.RateLimit(opts.RateLimitPerMin, time.Minute)
		r.Route("/videos", func(r chi.Router) {
			r.With(submitLimit).Post("/", app.VideosCreate)
			r.With(submitLimit).Post("/batch", app.VideosBatch)
			r.Get("/status", app.VideoStatusQuery)
			r.Get("/{id}/status", app.VideoStatus)
			r.Get("/{id}/content", app.VideoContent)
		})
	})

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	return r
}
