package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/middleware"
)

func TestRequestID_EchoesInboundHeader(t *testing.T) {
	var seen string
	h := middleware.RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = composables.UseRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/departments", nil)
	req.Header.Set("X-Request-ID", "upstream-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "upstream-42", seen)
	require.Equal(t, "upstream-42", rec.Header().Get("X-Request-ID"))
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var seen string
	h := middleware.RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = composables.UseRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/departments", nil))

	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestProvidePrincipal(t *testing.T) {
	var got composables.Principal
	h := middleware.ProvidePrincipal()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := composables.UsePrincipal(r.Context())
		require.NoError(t, err)
		got = p
	}))

	t.Run("parses trusted headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		req.Header.Set("X-User-ID", "7")
		req.Header.Set("X-User-Role", composables.RoleManager)
		req.Header.Set("X-Department-ID", "3")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, composables.Principal{ID: 7, Role: composables.RoleManager, DepartmentID: 3}, got)
	})

	t.Run("rejects missing user id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		req.Header.Set("X-User-Role", composables.RoleAdmin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "WT_NO_PRINCIPAL")
	})

	t.Run("rejects unknown role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		req.Header.Set("X-User-ID", "7")
		req.Header.Set("X-User-Role", "auditor")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
