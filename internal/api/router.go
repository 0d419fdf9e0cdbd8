// Package api exposes the inventory and scan sessions as a JSON API.
package api

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/erazemk/scanbin/internal/auth"
	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/scan"
	"github.com/erazemk/scanbin/internal/tree"
)

// Deps is everything the router needs.
type Deps struct {
	DB    *sql.DB
	Tree  *tree.Manager
	Scans *scan.Service
	// Tokens issues and checks bearer tokens.
	Tokens *auth.Issuer
	// MaxPhotoDimension bounds the longer side of stored photos.
	MaxPhotoDimension int
	// CORSOrigins enables CORS for the listed origins when non-empty.
	CORSOrigins []string
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: d.DB, Tokens: d.Tokens, Scans: d.Scans}
	usersHandler := &UsersHandler{DB: d.DB}
	itemsHandler := &ItemsHandler{Tree: d.Tree, Scans: d.Scans, MaxPhotoDimension: d.MaxPhotoDimension}
	sessionsHandler := &SessionsHandler{Scans: d.Scans}
	historyHandler := &HistoryHandler{Tree: d.Tree, Scans: d.Scans}

	authMW := AuthMiddleware(d.Tokens, d.DB)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)

	// Public.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users (admin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("GET /api/users/{id}/history", authMW(requireAdmin(http.HandlerFunc(usersHandler.History))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireAdmin(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Scan sessions (all roles).
	mux.Handle("POST /api/sessions", authMW(http.HandlerFunc(sessionsHandler.Open)))
	mux.Handle("GET /api/sessions/{id}", authMW(http.HandlerFunc(sessionsHandler.Get)))
	mux.Handle("DELETE /api/sessions/{id}", authMW(http.HandlerFunc(sessionsHandler.Close)))
	mux.Handle("POST /api/sessions/{id}/scan", authMW(http.HandlerFunc(sessionsHandler.Scan)))
	mux.Handle("POST /api/sessions/{id}/cancel", authMW(http.HandlerFunc(sessionsHandler.Cancel)))
	mux.Handle("GET /api/sessions/{id}/ws", authMW(http.HandlerFunc(sessionsHandler.Stream)))

	// Items: read and move (all roles), edit (manager+).
	mux.Handle("GET /api/lookup/{code}", authMW(http.HandlerFunc(itemsHandler.Lookup)))
	mux.Handle("POST /api/items", authMW(requireManager(http.HandlerFunc(itemsHandler.Create))))
	mux.Handle("GET /api/items/{ref}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{ref}", authMW(requireManager(http.HandlerFunc(itemsHandler.Update))))
	mux.Handle("DELETE /api/items/{ref}", authMW(requireManager(http.HandlerFunc(itemsHandler.Delete))))
	mux.Handle("POST /api/items/{ref}/restore", authMW(requireManager(http.HandlerFunc(itemsHandler.Restore))))
	mux.Handle("POST /api/items/{ref}/move", authMW(http.HandlerFunc(itemsHandler.Move)))
	mux.Handle("POST /api/items/{ref}/audit", authMW(http.HandlerFunc(itemsHandler.Audit)))
	mux.Handle("GET /api/items/{ref}/children", authMW(http.HandlerFunc(itemsHandler.Children)))
	mux.Handle("GET /api/items/{ref}/history", authMW(http.HandlerFunc(itemsHandler.History)))
	mux.Handle("GET /api/items/{ref}/move-candidates", authMW(http.HandlerFunc(itemsHandler.MoveCandidates)))
	mux.Handle("POST /api/items/{ref}/barcodes", authMW(requireManager(http.HandlerFunc(itemsHandler.AddBarcode))))
	mux.Handle("DELETE /api/items/{ref}/barcodes/{code}", authMW(requireManager(http.HandlerFunc(itemsHandler.RemoveBarcode))))
	mux.Handle("PUT /api/items/{ref}/photo", authMW(requireManager(http.HandlerFunc(itemsHandler.UploadPhoto))))
	mux.Handle("GET /api/items/{ref}/photo", authMW(http.HandlerFunc(itemsHandler.GetPhoto)))

	// History and actions (all roles).
	mux.Handle("GET /api/history", authMW(http.HandlerFunc(historyHandler.Recent)))
	mux.Handle("GET /api/actions", authMW(http.HandlerFunc(historyHandler.Actions)))

	var h http.Handler = mux
	if len(d.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}).Handler(h)
	}
	return LoggingMiddleware(h)
}
