package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/scanbin/internal/barcode"
	"github.com/erazemk/scanbin/internal/imaging"
	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/scan"
	"github.com/erazemk/scanbin/internal/tree"
)

// ItemsHandler handles item endpoints.
type ItemsHandler struct {
	Tree              *tree.Manager
	Scans             *scan.Service
	MaxPhotoDimension int
}

type itemResponse struct {
	Item     *model.Item             `json:"item"`
	Location string                  `json:"location"`
	Path     []model.Item            `json:"path"`
	Children []model.Item            `json:"children"`
	Barcodes []model.ExternalBarcode `json:"barcodes"`
}

type createItemRequest struct {
	Reference   string `json:"reference"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Parent      string `json:"parent"`
}

type updateItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type deleteItemRequest struct {
	Reason string `json:"reason"`
}

type restoreItemRequest struct {
	Parent string `json:"parent"`
	ToRoot bool   `json:"to_root"`
}

type moveItemRequest struct {
	// Parent is the destination reference; empty moves to the top level.
	Parent string `json:"parent"`
}

type auditItemRequest struct {
	Note string `json:"note"`
}

type addBarcodeRequest struct {
	Code  string `json:"code"`
	Kind  string `json:"kind"`
	Notes string `json:"notes"`
}

// reference normalizes an internal reference given by a client. Anything
// that is not a well-formed internal code is rejected.
func (h *ItemsHandler) reference(raw string) (string, error) {
	code := h.Scans.Classifier().Classify(raw)
	if code.Kind != barcode.KindInternal {
		return "", fmt.Errorf("%w: %q is not an item reference", tree.ErrInvalidItem, raw)
	}
	return code.Payload, nil
}

// pathRef returns the normalized {ref} path value, writing an error if it
// is not usable.
func (h *ItemsHandler) pathRef(w http.ResponseWriter, r *http.Request) (string, bool) {
	ref, err := h.reference(r.PathValue("ref"))
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	return ref, true
}

// optionalRef normalizes raw unless it is empty.
func (h *ItemsHandler) optionalRef(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	return h.reference(raw)
}

func (h *ItemsHandler) respondItem(w http.ResponseWriter, r *http.Request, status int, item *model.Item) {
	path, err := h.Tree.PathToRoot(r.Context(), item.Reference)
	if err != nil {
		writeError(w, r, err)
		return
	}
	children, err := h.Tree.Children(r.Context(), item.Reference, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	barcodes, err := h.Tree.ExternalBarcodes(r.Context(), item.Reference)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if path == nil {
		path = []model.Item{}
	}
	if children == nil {
		children = []model.Item{}
	}
	if barcodes == nil {
		barcodes = []model.ExternalBarcode{}
	}
	jsonResponse(w, status, itemResponse{
		Item:     item,
		Location: tree.Location(path),
		Path:     path,
		Children: children,
		Barcodes: barcodes,
	})
}

// Lookup handles GET /api/lookup/{code}. The code is classified like a scan.
func (h *ItemsHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	code := h.Scans.Classifier().Classify(r.PathValue("code"))

	var item *model.Item
	var err error
	switch code.Kind {
	case barcode.KindInternal:
		item, err = h.Tree.LookupReference(r.Context(), code.Payload)
	case barcode.KindExternal:
		item, err = h.Tree.LookupExternal(r.Context(), code.Payload)
	case barcode.KindAction:
		err = fmt.Errorf("%w: %s is an action code", tree.ErrInvalidItem, code.Payload)
	default:
		err = fmt.Errorf("%w: %q", scan.ErrMalformedBarcode, code.Payload)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondItem(w, r, http.StatusOK, item)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ref, err := h.optionalRef(req.Reference)
	if err != nil {
		writeError(w, r, err)
		return
	}
	parent, err := h.optionalRef(req.Parent)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.Tree.Create(r.Context(), GetClaims(r.Context()).Actor(), tree.NewItem{
		Reference:   ref,
		Name:        req.Name,
		Description: req.Description,
		Parent:      parent,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondItem(w, r, http.StatusCreated, item)
}

// Get handles GET /api/items/{ref}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}
	item, err := h.Tree.LookupReference(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondItem(w, r, http.StatusOK, item)
}

// Update handles PUT /api/items/{ref}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}

	var req updateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.Tree.Update(r.Context(), GetClaims(r.Context()).Actor(), ref, req.Name, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondItem(w, r, http.StatusOK, item)
}

// Delete handles DELETE /api/items/{ref}. The item is soft-deleted.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}

	var req deleteItemRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.Tree.SoftDelete(r.Context(), GetClaims(r.Context()).Actor(), ref, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Restore handles POST /api/items/{ref}/restore.
func (h *ItemsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}

	var req restoreItemRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	parent, err := h.optionalRef(req.Parent)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.Tree.Restore(r.Context(), GetClaims(r.Context()).Actor(), ref,
		tree.RestoreOptions{Parent: parent, ToRoot: req.ToRoot})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondItem(w, r, http.StatusOK, item)
}

// Move handles POST /api/items/{ref}/move.
func (h *ItemsHandler) Move(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}

	var req moveItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	parent, err := h.optionalRef(req.Parent)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.Tree.Move(r.Context(), GetClaims(r.Context()).Actor(), ref, parent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondItem(w, r, http.StatusOK, item)
}

// Audit handles POST /api/items/{ref}/audit.
func (h *ItemsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}

	var req auditItemRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.Tree.Audit(r.Context(), GetClaims(r.Context()).Actor(), ref, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondItem(w, r, http.StatusOK, item)
}

// Children handles GET /api/items/{ref}/children. ?deleted=1 includes
// deleted contents.
func (h *ItemsHandler) Children(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}
	withDeleted, _ := strconv.ParseBool(r.URL.Query().Get("deleted"))

	children, err := h.Tree.Children(r.Context(), ref, withDeleted)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if children == nil {
		children = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, children)
}

// History handles GET /api/items/{ref}/history.
func (h *ItemsHandler) History(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}

	history, err := h.Tree.History(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if history == nil {
		history = []model.HistoryEntry{}
	}
	jsonResponse(w, http.StatusOK, history)
}

// MoveCandidates handles GET /api/items/{ref}/move-candidates. ?containers=1
// limits the list to items that already hold something.
func (h *ItemsHandler) MoveCandidates(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}
	containersOnly, _ := strconv.ParseBool(r.URL.Query().Get("containers"))

	candidates, err := h.Tree.MoveCandidates(r.Context(), ref, containersOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []tree.Candidate{}
	}
	jsonResponse(w, http.StatusOK, candidates)
}

// AddBarcode handles POST /api/items/{ref}/barcodes. Codes that would scan
// as an internal reference or an action are refused.
func (h *ItemsHandler) AddBarcode(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}

	var req addBarcodeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	code := h.Scans.Classifier().Classify(req.Code)
	if code.Kind != barcode.KindExternal {
		writeError(w, r, fmt.Errorf("%w: %q does not scan as an external barcode", tree.ErrInvalidItem, req.Code))
		return
	}

	bc, err := h.Tree.AddExternalBarcode(r.Context(), GetClaims(r.Context()).Actor(), ref, code.Payload, req.Kind, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, bc)
}

// RemoveBarcode handles DELETE /api/items/{ref}/barcodes/{code}.
func (h *ItemsHandler) RemoveBarcode(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}

	if err := h.Tree.RemoveExternalBarcode(r.Context(), GetClaims(r.Context()).Actor(), ref, r.PathValue("code")); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "barcode removed"})
}

// UploadPhoto handles PUT /api/items/{ref}/photo. The photo is sent as the
// "image" field of a multipart form and stored as a bounded JPEG.
func (h *ItemsHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes)
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Normalize(file, h.MaxPhotoDimension)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Tree.SetPhoto(r.Context(), GetClaims(r.Context()).Actor(), ref, photo.Data, photo.MIME); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("item photo stored", "item", ref, "width", photo.Width, "height", photo.Height)
	jsonResponse(w, http.StatusOK, map[string]any{
		"message": "photo stored",
		"width":   photo.Width,
		"height":  photo.Height,
	})
}

// GetPhoto handles GET /api/items/{ref}/photo.
func (h *ItemsHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.pathRef(w, r)
	if !ok {
		return
	}

	data, mime, err := h.Tree.Photo(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
