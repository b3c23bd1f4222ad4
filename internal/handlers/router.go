package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prudhvinik1/ussync/internal/repositories"
	"github.com/prudhvinik1/ussync/internal/services"
)

type RouterOptions struct {
	Repo        repositories.PresenceRepository
	Tokens      *services.TokenService
	CORSOrigins string // comma separated, empty allows any origin
	RateLimit   int    // requests per minute per IP, 0 disables
}

// NewRouter builds the relay API.
func NewRouter(opts RouterOptions) http.Handler {
	origins := splitOrigins(opts.CORSOrigins)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	if opts.RateLimit > 0 {
		router.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	router.Use(WithMetrics)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	router.Handle("/metrics", promhttp.Handler())

	tokens := NewTokenHandler(opts.Tokens)
	presence := NewPresenceHandler(opts.Repo, opts.Tokens.Pairing(), originChecker(origins))

	router.Route("/v1", func(r chi.Router) {
		r.Post("/tokens", tokens.Issue)

		r.Group(func(r chi.Router) {
			r.Use(RequireToken(opts.Tokens))
			r.Get("/presence/{userID}", presence.Get)
			r.Patch("/presence/{userID}", presence.Patch)
			r.Get("/presence/{userID}/stream", presence.Stream)
		})
	})

	return router
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// originChecker applies the CORS allow-list to websocket upgrades.
// Requests without an Origin header (native clients) are always allowed.
func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
