package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSOptions defines configuration for CORS.
type CORSOptions struct {
	// AllowedOrigins lists exact origins, or "*" for any.
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge in seconds lets browsers cache preflight responses.
	MaxAge int
}

// DefaultCORSOptions allows any origin and the methods and headers the generated APIs use.
func DefaultCORSOptions() *CORSOptions {
	return &CORSOptions{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept", "X-Request-Id", "X-Requested-With"},
		ExposedHeaders:   []string{"Location", RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}
}

// CORSWithOptions answers preflight requests with 204 and decorates
// cross-origin responses. Requests without an Origin header pass through
// untouched, and so do disallowed origins, which get no CORS headers. A nil
// options uses DefaultCORSOptions.
func CORSWithOptions(options *CORSOptions) func(http.Handler) http.Handler {
	if options == nil {
		options = DefaultCORSOptions()
	}
	anyOrigin := slices.Contains(options.AllowedOrigins, "*")
	methods := strings.Join(options.AllowedMethods, ", ")
	headers := strings.Join(options.AllowedHeaders, ", ")
	exposed := strings.Join(options.ExposedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")

			allowed := anyOrigin || slices.Contains(options.AllowedOrigins, origin)
			if allowed {
				// "*" is not valid alongside credentials
				if anyOrigin && !options.AllowCredentials {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
				}
				if options.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if exposed != "" {
					h.Set("Access-Control-Expose-Headers", exposed)
				}
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if allowed {
				if methods != "" {
					h.Set("Access-Control-Allow-Methods", methods)
				}
				if headers != "" {
					h.Set("Access-Control-Allow-Headers", headers)
				}
				if options.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(options.MaxAge))
				}
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
