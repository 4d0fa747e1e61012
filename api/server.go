/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the portal router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      unique ID per request for tracing
  2. RequestLogger:  zap access log
  3. Recoverer:      panic recovery (500 instead of crash)
  4. CORS:           cross-origin requests from the browser app
  5. session:        bearer JWT required on /api/leave

ROUTE GROUPS:
  /healthz              liveness
  /api/leave/*          portal (see handlers.go)

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/leave-portal/logging"
	"github.com/warp/leave-portal/session"
)

type RouterOptions struct {
	JWTSecret      string
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/leave", func(r chi.Router) {
		r.Use(session.Middleware(opts.JWTSecret))

		r.Get("/mine", h.Mine)
		r.Get("/balance", h.Balance)
		r.Get("/calendar/blocked", h.Blocked)

		r.Route("/selection", func(r chi.Router) {
			r.Get("/", h.GetSelection)
			r.Post("/", h.Select)
			r.Delete("/", h.CancelSelection)
			r.Post("/submit", h.SubmitSelection)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.With(session.RequireElevated).Put("/{id}/approve", h.Approve)
			r.With(session.RequireElevated).Put("/{id}/reject", h.Reject)
		})
	})

	return r
}
