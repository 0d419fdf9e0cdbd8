package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/erazemk/scanbin/internal/action"
	"github.com/erazemk/scanbin/internal/auth"
	"github.com/erazemk/scanbin/internal/scan"
)

// maxFrameBytes bounds one WebSocket message.
const maxFrameBytes = 4096

// SessionsHandler drives scan sessions over HTTP and WebSocket.
type SessionsHandler struct {
	Scans *scan.Service
}

type scanInput struct {
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

type scanRequest struct {
	Code  string    `json:"code"`
	Input scanInput `json:"input"`
}

type cancelResponse struct {
	Session   *scan.Session `json:"session"`
	Cancelled string        `json:"cancelled,omitempty"`
}

// answers replies to prompts with the values sent along with a scan. The
// first prompt it cannot answer is kept so the client can be told what to send.
type answers struct {
	input  scanInput
	missed *action.InputRequest
}

func (a *answers) Prompt(_ context.Context, req action.InputRequest) (string, error) {
	var v string
	switch req.Kind {
	case action.InputCreateLabel:
		v = a.input.Label
	case action.InputDeleteReason:
		v = a.input.Reason
	}
	v = strings.TrimSpace(v)
	if v == "" {
		if a.missed == nil {
			a.missed = &req
		}
		return "", action.ErrInputRequired
	}
	return v, nil
}

func ownsSession(claims *auth.Claims, sess *scan.Session) bool {
	return sess.UserID != nil && *sess.UserID == claims.UserID
}

// session loads the session named in the path. Sessions of other users are
// reported as missing.
func (h *SessionsHandler) session(w http.ResponseWriter, r *http.Request) (*scan.Session, bool) {
	sess, err := h.Scans.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if !ownsSession(GetClaims(r.Context()), sess) {
		writeError(w, r, scan.ErrSessionNotFound)
		return nil, false
	}
	return sess, true
}

// Open handles POST /api/sessions.
func (h *SessionsHandler) Open(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Scans.Open(r.Context(), GetClaims(r.Context()).Actor())
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, sess)
}

// Get handles GET /api/sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, sess)
}

// Close handles DELETE /api/sessions/{id}.
func (h *SessionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.Scans.Close(r.Context(), sess.ID); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "session closed"})
}

// Cancel handles POST /api/sessions/{id}/cancel.
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess, cancelled, err := h.Scans.Cancel(r.Context(), sess.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, cancelResponse{Session: sess, Cancelled: cancelled})
}

// Scan handles POST /api/sessions/{id}/scan.
func (h *SessionsHandler) Scan(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, reply := h.scan(r, sess.ID, req)
	jsonResponse(w, status, reply)
}

// scan runs one scan and returns the status and body to send back.
func (h *SessionsHandler) scan(r *http.Request, id string, req scanRequest) (int, any) {
	prompts := &answers{input: req.Input}
	res, err := h.Scans.Scan(r.Context(), id, req.Code, prompts)
	if err != nil {
		status, body := describeError(r, err)
		if errors.Is(err, action.ErrInputRequired) {
			body.Input = prompts.missed
		}
		return status, body
	}
	return http.StatusOK, res
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Stream handles GET /api/sessions/{id}/ws. Every text frame is one scan:
// either a bare code or a JSON scan request. Each reply is the JSON body the
// scan endpoint would have returned, wrapped with its status.
func (h *SessionsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session", sess.ID, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	slog.Info("scan stream opened", "session", sess.ID, "user", sess.Username)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("scan stream closed", "session", sess.ID, "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		status, reply := h.scan(r, sess.ID, parseFrame(data))
		if err := conn.WriteJSON(streamReply{Status: status, Body: reply}); err != nil {
			slog.Warn("writing scan reply", "session", sess.ID, "error", err)
			return
		}
	}
}

type streamReply struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

func parseFrame(data []byte) scanRequest {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var req scanRequest
		if err := json.Unmarshal(data, &req); err == nil {
			return req
		}
	}
	return scanRequest{Code: string(data)}
}
