package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/scan"
	"github.com/erazemk/scanbin/internal/tree"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryHandler serves the global history and the action catalogue.
type HistoryHandler struct {
	Tree  *tree.Manager
	Scans *scan.Service
}

type actionInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	NeedsArgument bool   `json:"needs_argument"`
	Deselects     bool   `json:"deselects"`
	// Barcode is the text to print on the action label.
	Barcode string `json:"barcode"`
}

// Recent handles GET /api/history?limit=N.
func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, err := historyLimit(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.Tree.RecentHistory(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	jsonResponse(w, http.StatusOK, entries)
}

// Actions handles GET /api/actions.
func (h *HistoryHandler) Actions(w http.ResponseWriter, r *http.Request) {
	prefix := h.Scans.Classifier().ActionPrefix()
	acts := h.Scans.Registry().Actions()
	out := make([]actionInfo, 0, len(acts))
	for _, a := range acts {
		out = append(out, actionInfo{
			Name:          a.Name,
			Description:   a.Description,
			NeedsArgument: a.NeedsArgument,
			Deselects:     a.Deselects,
			Barcode:       prefix + a.Name,
		})
	}
	jsonResponse(w, http.StatusOK, out)
}

// historyLimit reads ?limit=N, capped at maxHistoryLimit.
func historyLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(n, maxHistoryLimit), nil
}
