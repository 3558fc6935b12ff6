package middleware

import (
	"net/http"
	"time"

	"github.com/ekaya-inc/insightpilot/pkg/metrics"
)

// Metrics records request counts and latency. Requests are labelled with
// the matched ServeMux pattern so path parameters do not multiply series.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			path := r.Pattern
			if path == "" {
				path = "unmatched"
			}
			m.HTTPRequest(r.Method, path, wrapped.statusCode, time.Since(start))
		})
	}
}
