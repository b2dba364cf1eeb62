package middleware

import (
	"log"
	"net/http"
	"time"
)

// Trace logs one line per request. The tenant comes from the same
// header the rate limiter keys on, so throttling decisions can be
// traced back to the tenant that caused them.
func Trace(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if logger == nil {
				return
			}
			tenant := r.Header.Get("X-Tenant-Id")
			if tenant == "" {
				tenant = "-"
			}
			logger.Printf(
				"trace request_id=%s tenant=%s method=%s path=%s duration_ms=%d",
				GetRequestID(r.Context()),
				tenant,
				r.Method,
				r.URL.Path,
				time.Since(start).Milliseconds(),
			)
		})
	}
}
