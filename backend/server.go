/*
server.go - Router for the reference leave backend

PURPOSE:
  Serves the REST contract the portal's transport client speaks, backed by
  store/sqlite. Used for local development and end-to-end tests.

MIDDLEWARE STACK:
  1. RequestID:      honours an inbound X-Request-ID, otherwise generates one
  2. RequestLogger:  one zap line per request
  3. Recoverer:      panic -> 500
  4. session:        bearer JWT -> session in context (401 otherwise)

ROUTES:
  GET    /healthz                              liveness (no auth)
  GET    /vacation-requests/my-requests        caller's own requests
  GET    /vacation-requests                    role-scoped list
  POST   /vacation-requests                    create (pending)
  PUT    /vacation-requests/{id}/approve       pending -> approved
  PUT    /vacation-requests/{id}/reject        pending -> rejected
  GET    /holidays?location_id=                location + global holidays
  POST   /holidays                             admin only
  DELETE /holidays/{id}                        admin only

SEE ALSO:
  - handlers.go: handler implementations
  - transport/client.go: the client side of this contract
*/
package backend

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/logging"
	"github.com/warp/leave-portal/session"
)

// NewRouter wires the handler behind auth and request logging.
func NewRouter(h *Handler, jwtSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(jwtSecret))

		r.Route("/vacation-requests", func(r chi.Router) {
			r.Get("/my-requests", h.ListMine)
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Put("/{id}/approve", h.ApproveRequest)
			r.Put("/{id}/reject", h.RejectRequest)
		})

		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.With(requireAdmin).Post("/", h.CreateHoliday)
			r.With(requireAdmin).Delete("/{id}", h.DeleteHoliday)
		})
	})

	return r
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := session.FromContext(r.Context())
		if !ok || s.Role != leave.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
