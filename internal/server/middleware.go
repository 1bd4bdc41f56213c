package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware checks for the bearer token in the Authorization header. An
// empty token leaves the routes open.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				JSONErrorResponse(w, "Missing Authorization header", http.StatusUnauthorized)
				return
			}

			scheme, got, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				JSONErrorResponse(w, "Invalid or missing token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
