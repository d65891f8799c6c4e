package middleware

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-workorders/internal/metrics"
)

type loggingWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// RequestLogger logs one entry per request. Server errors are logged at
// error level, client errors at warn and everything else at info.
func RequestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggingWriter{ResponseWriter: w}

			next.ServeHTTP(lw, r)

			if lw.status == 0 {
				lw.status = http.StatusOK
			}
			fields := log.Fields{
				"method":      r.Method,
				"route":       metrics.RoutePattern(r),
				"path":        r.URL.Path,
				"status":      lw.status,
				"bytes":       lw.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_ip":   getClientIP(r, false),
			}

			entry := logger.WithFields(fields)
			switch {
			case lw.status >= http.StatusInternalServerError:
				entry.Error("request failed")
			case lw.status >= http.StatusBadRequest:
				entry.Warn("request rejected")
			default:
				entry.Info("request served")
			}
		})
	}
}
