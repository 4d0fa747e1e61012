package session

import (
	"encoding/json"
	"net/http"
)

// Middleware rejects requests without a valid bearer token with 401 and puts
// the session and raw token on the request context otherwise.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}
			s, err := Parse(secret, token)
			if err != nil {
				unauthorized(w, "invalid or expired session")
				return
			}
			ctx := WithToken(WithSession(r.Context(), s), token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireElevated allows only managers and admins through; others get 403.
// Must run after Middleware.
func RequireElevated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := FromContext(r.Context())
		if !ok {
			unauthorized(w, "missing session")
			return
		}
		if !s.Role.Elevated() {
			writeError(w, http.StatusForbidden, "manager or admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="leave-portal"`)
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
