package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iota-uz/worktrack/modules/notification/services"
	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/httpapi"
)

type NotificationController struct {
	svc *services.NotificationService
}

func NewNotificationController(svc *services.NotificationService) *NotificationController {
	return &NotificationController{svc: svc}
}

func (c *NotificationController) Key() string { return "/notifications" }

func (c *NotificationController) Register(r *mux.Router) {
	r.HandleFunc("/notifications", c.list).Methods(http.MethodGet)
	r.HandleFunc("/notifications/{id}/read", c.markRead).Methods(http.MethodPost)
}

func (c *NotificationController) list(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	unreadOnly, err := httpapi.QueryBool(r, "unread")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	notifications, err := c.svc.ListMine(r.Context(), unreadOnly)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, notifications)
}

func (c *NotificationController) markRead(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	n, err := c.svc.MarkRead(r.Context(), id)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, n)
}
