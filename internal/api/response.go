package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/scanbin/internal/action"
	"github.com/erazemk/scanbin/internal/imaging"
	"github.com/erazemk/scanbin/internal/scan"
	"github.com/erazemk/scanbin/internal/tree"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string               `json:"error"`
	Code  string               `json:"code,omitempty"`
	Input *action.InputRequest `json:"input,omitempty"`
}

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorBody{Error: message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

type errorClass struct {
	err    error
	status int
	code   string
}

var errorClasses = []errorClass{
	{tree.ErrNotFound, http.StatusNotFound, "not_found"},
	{scan.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{tree.ErrAmbiguousExternalBarcode, http.StatusConflict, "ambiguous_barcode"},
	{tree.ErrDuplicateReference, http.StatusConflict, "duplicate_reference"},
	{tree.ErrDuplicateBarcode, http.StatusConflict, "duplicate_barcode"},
	{tree.ErrCycleDetected, http.StatusConflict, "cycle_detected"},
	{tree.ErrItemDeleted, http.StatusConflict, "item_deleted"},
	{tree.ErrHasChildren, http.StatusConflict, "has_children"},
	{tree.ErrParentDeleted, http.StatusConflict, "parent_deleted"},
	{tree.ErrNotDeleted, http.StatusConflict, "not_deleted"},
	{scan.ErrNoItemSelected, http.StatusConflict, "no_item_selected"},
	{action.ErrUnknownAction, http.StatusBadRequest, "unknown_action"},
	{scan.ErrMalformedBarcode, http.StatusBadRequest, "malformed_barcode"},
	{tree.ErrInvalidItem, http.StatusBadRequest, "invalid_item"},
	{imaging.ErrUnsupportedFormat, http.StatusBadRequest, "unsupported_image"},
	{action.ErrInputRequired, http.StatusUnprocessableEntity, "input_required"},
	{action.ErrInputCancelled, http.StatusUnprocessableEntity, "input_cancelled"},
	{tree.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

// classify maps a domain error onto an HTTP status and a stable error code.
func classify(err error) (int, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	if errors.Is(err, tree.ErrInconsistent) {
		return http.StatusInternalServerError, "inconsistent"
	}
	return http.StatusInternalServerError, "internal"
}

// describeError turns err into a status and a response body. Server-side
// failures are logged and their details are not sent to the client.
func describeError(r *http.Request, err error) (int, errorBody) {
	status, code := classify(err)
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		slog.Warn("store unavailable", "path", r.URL.Path, "error", err)
		msg = "storage temporarily unavailable, retry"
	case status >= 500:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	return status, errorBody{Error: msg, Code: code}
}

// writeError writes err as a JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := describeError(r, err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	jsonResponse(w, status, body)
}
