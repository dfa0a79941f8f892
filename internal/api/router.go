package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flotilla-app/flotilla/internal/auth"
	"github.com/flotilla-app/flotilla/internal/middleware"
)

// RouterOptions tunes the outer HTTP surface.
type RouterOptions struct {
	// RateLimitReqs / RateLimitWindow bound requests per client IP.
	RateLimitReqs   int
	RateLimitWindow time.Duration

	// CORSOrigins lists allowed browser origins. Empty means any.
	CORSOrigins []string
}

func (o RouterOptions) withDefaults() RouterOptions {
	if o.RateLimitReqs == 0 {
		o.RateLimitReqs = 100
	}
	if o.RateLimitWindow == 0 {
		o.RateLimitWindow = time.Minute
	}
	if len(o.CORSOrigins) == 0 {
		o.CORSOrigins = []string{"*"}
	}
	return o
}

// NewRouter assembles the full route tree.
func NewRouter(h *Handlers, verifier *auth.Verifier, opts RouterOptions) http.Handler {
	opts = opts.withDefaults()

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(opts.RateLimitReqs, opts.RateLimitWindow))
		r.Use(middleware.RequireIdentity(verifier))

		r.Post("/groups", h.CreateGroup)
		r.Post("/groups/join", h.JoinGroup)
		r.Get("/groups/{groupID}", h.GetGroup)
		r.Post("/groups/{groupID}/leave", h.LeaveGroup)
		r.Get("/groups/{groupID}/locations", h.MemberLocations)
		r.Get("/groups/{groupID}/watch", h.WatchGroup)
		r.Post("/locations", h.PublishLocation)
	})

	return r
}
