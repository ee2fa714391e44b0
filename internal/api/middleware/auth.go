package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/edvin/sitebackup/internal/api/response"
)

// APIKeyHeader carries the shared API key.
const APIKeyHeader = "X-API-Key"

// Auth returns a middleware that compares the X-API-Key header with the
// configured key in constant time.
func Auth(apiKey string) func(http.Handler) http.Handler {
	expected := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}
			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
