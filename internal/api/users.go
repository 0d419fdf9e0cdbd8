package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/store"
)

// profileHistoryLimit is how many of a user's changes GET /api/users/{id}
// includes.
const profileHistoryLimit = 10

// UsersHandler manages accounts. Every route is admin only.
type UsersHandler struct {
	DB *sql.DB
}

type userRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// userProfile is an account together with the last items it touched.
type userProfile struct {
	*model.User
	Recent []model.HistoryEntry `json:"recent"`
}

// List handles GET /api/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := store.ListUsers(r.Context(), h.DB)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	jsonResponse(w, http.StatusOK, users)
}

// Create handles POST /api/users.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" {
		jsonError(w, http.StatusBadRequest, "username, password and role required")
		return
	}
	if !model.ValidRole(req.Role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}
	hash, ok := passwordHash(w, req.Password)
	if !ok {
		return
	}

	user, err := store.CreateUser(r.Context(), h.DB, req.Username, hash, req.Role)
	if store.IsUniqueViolation(err) {
		jsonError(w, http.StatusConflict, "username already exists")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("user created", "by", GetClaims(r.Context()).Username, "username", user.Username, "role", user.Role)
	jsonResponse(w, http.StatusCreated, user)
}

// Get handles GET /api/users/{id}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := h.target(w, r)
	if !ok {
		return
	}
	recent, err := store.ListUserHistory(r.Context(), h.DB, user.ID, profileHistoryLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recent == nil {
		recent = []model.HistoryEntry{}
	}
	jsonResponse(w, http.StatusOK, userProfile{User: user, Recent: recent})
}

// History handles GET /api/users/{id}/history?limit=N.
func (h *UsersHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := historyLimit(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, ok := h.target(w, r)
	if !ok {
		return
	}
	entries, err := store.ListUserHistory(r.Context(), h.DB, user.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	jsonResponse(w, http.StatusOK, entries)
}

// Update handles PUT /api/users/{id}. Only the role can change.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil || !model.ValidRole(req.Role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}
	user, ok := h.target(w, r)
	if !ok {
		return
	}
	if req.Role != model.RoleAdmin && !h.notSelf(w, r, user) {
		return
	}

	if err := store.UpdateUserRole(r.Context(), h.DB, user.ID, req.Role); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user role changed", "by", GetClaims(r.Context()).Username, "username", user.Username,
		"from", user.Role, "to", req.Role)
	user.Role = req.Role
	jsonResponse(w, http.StatusOK, user)
}

// ResetPassword handles PUT /api/users/{id}/password.
func (h *UsersHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, ok := h.target(w, r)
	if !ok {
		return
	}
	hash, ok := passwordHash(w, req.Password)
	if !ok {
		return
	}

	if err := store.UpdateUserPassword(r.Context(), h.DB, user.ID, hash); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user password reset", "by", GetClaims(r.Context()).Username, "username", user.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// Delete handles DELETE /api/users/{id}. The account is soft-deleted so its
// history keeps a name.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := h.target(w, r)
	if !ok || !h.notSelf(w, r, user) {
		return
	}

	if err := store.DeleteUser(r.Context(), h.DB, user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user deleted", "by", GetClaims(r.Context()).Username, "username", user.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

// target loads the live user named by the {id} path value, writing 400 or
// 404 when there is none.
func (h *UsersHandler) target(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return nil, false
	}
	user, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if user == nil || user.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "user not found")
		return nil, false
	}
	return user, true
}

// notSelf refuses changes that would take away the caller's own admin access.
func (h *UsersHandler) notSelf(w http.ResponseWriter, r *http.Request, user *model.User) bool {
	if claims := GetClaims(r.Context()); claims != nil && claims.UserID == user.ID {
		jsonError(w, http.StatusBadRequest, "cannot remove your own admin access")
		return false
	}
	return true
}

// passwordHash validates pw and hashes it, writing 400 or 500 on failure.
func passwordHash(w http.ResponseWriter, pw string) (string, bool) {
	if err := model.ValidatePassword(pw); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return "", false
	}
	return string(hash), true
}
