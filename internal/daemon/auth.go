package daemon

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"stemd/internal/services"
)

// correlationMiddleware stamps each request context with a short correlation
// identifier so handler log lines can be tied back to a single API call.
func correlationMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()[:8]
		next(w, r.WithContext(services.WithRequestID(r.Context(), rid)))
	}
}

// authMiddleware validates bearer tokens. An empty token disables
// authentication; the default bind is loopback-only.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if strings.TrimPrefix(auth, "Bearer ") != token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
