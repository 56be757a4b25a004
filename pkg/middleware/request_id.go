package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/configuration"
)

// RequestID propagates the inbound request id header or generates one,
// storing it in the context and echoing it on the response.
func RequestID() mux.MiddlewareFunc {
	header := configuration.Use().RequestIDHeader
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(header))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(header, id)
			next.ServeHTTP(w, r.WithContext(composables.WithRequestID(r.Context(), id)))
		})
	}
}
