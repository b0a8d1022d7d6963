package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/edgeflare/restless/pkg/metrics"
)

// Metrics records request counts and latencies per matched route pattern.
// Install it as the innermost root middleware so the mux can set
// r.Pattern on the request it sees.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewResponseRecorder(w)

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.StatusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
