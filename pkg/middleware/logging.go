package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/worktrack/pkg/composables"
)

type statusCaptureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusCaptureWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusCaptureWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusCaptureWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// RequestLogger attaches a request-scoped logrus entry to the context and
// emits one line per request with method, path, status and duration.
func RequestLogger(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithFields(logrus.Fields{
				"request_id": composables.UseRequestID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			cw := &statusCaptureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r.WithContext(composables.WithLogger(r.Context(), entry)))
			entry.WithFields(logrus.Fields{
				"status":   cw.Status(),
				"duration": time.Since(start).String(),
			}).Info("request completed")
		})
	}
}
