package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/iota-uz/worktrack/pkg/serrors"
)

const maxBodyBytes = 1 << 20

// DecodeJSON reads the request body into dst, rejecting unknown fields
// and trailing garbage.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return serrors.New(http.StatusBadRequest, "WT_INVALID_BODY", "request body is not valid JSON for this endpoint", err)
	}
	if dec.More() {
		return serrors.New(http.StatusBadRequest, "WT_INVALID_BODY", "request body contains trailing data", nil)
	}
	return nil
}

// PathID extracts an int64 route variable.
func PathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, serrors.Validation(name + " must be a positive integer")
	}
	return id, nil
}

// QueryInt64 parses an optional integer query parameter.
func QueryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, serrors.InvalidQuery(name + " must be an integer")
	}
	return &v, nil
}

// QueryBool parses an optional boolean query parameter, defaulting to
// false when absent.
func QueryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, serrors.InvalidQuery(name + " must be true or false")
	}
	return v, nil
}
