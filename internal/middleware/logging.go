package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LogRequests logs every request once it has been served.
func LogRequests(log logrus.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			begin := time.Now()
			resp := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(resp, r)

			log.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      resp.statusCode,
				"duration_ms": time.Since(begin).Milliseconds(),
				"user_agent":  r.UserAgent(),
			}).Info("request")
		})
	}
}
