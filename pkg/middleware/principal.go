package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/configuration"
	"github.com/iota-uz/worktrack/pkg/httpapi"
)

// ProvidePrincipal parses the trusted identity headers set by the upstream
// gateway into a composables.Principal. Requests without a resolvable
// principal are rejected with 401; the core never authenticates on its own.
func ProvidePrincipal() mux.MiddlewareFunc {
	conf := configuration.Use()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := composables.UseRequestID(r.Context())

			userID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(conf.UserIDHeader)), 10, 64)
			if err != nil || userID <= 0 {
				httpapi.WriteError(w, http.StatusUnauthorized, requestID, "WT_NO_PRINCIPAL", "missing or invalid principal")
				return
			}

			role := strings.TrimSpace(r.Header.Get(conf.UserRoleHeader))
			switch role {
			case composables.RoleAdmin, composables.RoleManager, composables.RolePersonnel:
			default:
				httpapi.WriteError(w, http.StatusUnauthorized, requestID, "WT_NO_PRINCIPAL", "missing or invalid role")
				return
			}

			departmentID, _ := strconv.ParseInt(strings.TrimSpace(r.Header.Get(conf.DepartmentHeader)), 10, 64)

			p := composables.Principal{ID: userID, Role: role, DepartmentID: departmentID}
			next.ServeHTTP(w, r.WithContext(composables.WithPrincipal(r.Context(), p)))
		})
	}
}
