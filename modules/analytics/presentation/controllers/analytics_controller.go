package controllers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iota-uz/worktrack/modules/analytics/services"
	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/httpapi"
	"github.com/iota-uz/worktrack/pkg/serrors"
)

type AnalyticsController struct {
	svc *services.AnalyticsService
}

func NewAnalyticsController(svc *services.AnalyticsService) *AnalyticsController {
	return &AnalyticsController{svc: svc}
}

func (c *AnalyticsController) Key() string { return "/analytics" }

func (c *AnalyticsController) Register(r *mux.Router) {
	r.HandleFunc("/analytics/subdepartments/{id}/stats", c.stats).Methods(http.MethodGet)
	r.HandleFunc("/analytics/subdepartments/{id}/workload", c.workload).Methods(http.MethodGet)
	r.HandleFunc("/analytics/subdepartments/{id}/overdue", c.overdue).Methods(http.MethodGet)
	r.HandleFunc("/analytics/subdepartments/{id}/backlog", c.backlog).Methods(http.MethodGet)
}

func (c *AnalyticsController) stats(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	includeChildren, err := httpapi.QueryBool(r, "include_children")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpapi.WriteServiceError(w, requestID, serrors.InvalidQuery("since must be an RFC 3339 timestamp"))
			return
		}
		since = &parsed
	}
	stats, err := c.svc.Stats(r.Context(), id, includeChildren, since)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, stats)
}

func (c *AnalyticsController) workload(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	includeChildren, err := httpapi.QueryBool(r, "include_children")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	workload, err := c.svc.Workload(r.Context(), id, includeChildren)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, workload)
}

func (c *AnalyticsController) overdue(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	includeChildren, err := httpapi.QueryBool(r, "include_children")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	overdue, err := c.svc.Overdue(r.Context(), id, includeChildren)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, overdue)
}

func (c *AnalyticsController) backlog(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	includeChildren, err := httpapi.QueryBool(r, "include_children")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	backlog, err := c.svc.Backlog(r.Context(), id, includeChildren)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, backlog)
}
