package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

var defaultCorsOptions = cors.Options{
	AllowOriginFunc: func(origin string) bool {
		return true
	},
	AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "HEAD", "OPTIONS"},
	AllowedHeaders:   []string{"*"},
	AllowCredentials: true,
}

// CorsMiddleware returns the CORS handler for the administrative API. With
// no origins configured every origin is allowed, matching the permissive
// default the upload widget expects.
func CorsMiddleware(origins []string) func(h http.Handler) http.Handler {
	opts := defaultCorsOptions

	if len(origins) > 0 {
		opts.AllowOriginFunc = nil
		opts.AllowedOrigins = origins
	}

	return cors.New(opts).Handler
}
