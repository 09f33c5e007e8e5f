package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderServiceToken authenticates service-to-service calls on the internal
// API.
const HeaderServiceToken = "x-service-token"

// Auth returns middleware that validates the shared service token, taken
// from the x-service-token header or an Authorization bearer token. An empty
// configured token disables authentication; that is only sensible in local
// development.
func Auth(serviceToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if serviceToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing service token")
				return
			}

			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(token), []byte(serviceToken)) != 1 {
				writeUnauthorized(w, "invalid service token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for the token in the x-service-token header or in the
// Authorization header (Bearer scheme).
func extractToken(r *http.Request) string {
	if key := r.Header.Get(HeaderServiceToken); key != "" {
		return strings.TrimSpace(key)
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
