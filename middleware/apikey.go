package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const APIKeyHeader = "X-Api-Key"

// APIKeyMiddleware guards /api routes with a static key. Paths outside /api
// (the index and health probes) stay open. An empty configured key disables
// the check entirely.
func APIKeyMiddleware(apiKey string, logger *zap.Logger) func(h http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || !isAPIPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get(APIKeyHeader)
			if presented == "" {
				http.Error(w, "API key missing.", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				logger.Warn("rejected request with invalid api key", zap.String("path", r.URL.Path))
				http.Error(w, "API key invalid.", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isAPIPath matches the /api segment, not every path sharing the prefix.
func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}
