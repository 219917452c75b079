package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
)

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags every request with a short id and logs method, path,
// status, and duration.
func requestLogger(logger golog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		reqID := uuid.New().String()[:8]

		next.ServeHTTP(rec, r)

		requestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(rec.code)).Inc()
		logger.Debugw("http request",
			"id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"duration", time.Since(start).String())
	})
}
