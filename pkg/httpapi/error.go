package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/iota-uz/worktrack/pkg/serrors"
)

// ErrorEnvelope standardizes JSON error responses across API namespaces.
type ErrorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func WriteError(w http.ResponseWriter, status int, requestID, code, message string) {
	meta := map[string]string{}
	if requestID != "" {
		meta["request_id"] = requestID
	}
	WriteJSON(w, status, &ErrorEnvelope{Code: code, Message: message, Meta: meta})
}

// WriteServiceError translates a service failure into the error envelope,
// treating anything that is not a *serrors.Error as an internal fault.
func WriteServiceError(w http.ResponseWriter, requestID string, err error) {
	if se, ok := serrors.As(err); ok {
		WriteError(w, se.Status, requestID, se.Code, se.Message)
		return
	}
	WriteError(w, http.StatusInternalServerError, requestID, "WT_INTERNAL", "internal server error")
}
