package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/scanbin/internal/action"
	"github.com/erazemk/scanbin/internal/auth"
	"github.com/erazemk/scanbin/internal/barcode"
	"github.com/erazemk/scanbin/internal/clock"
	"github.com/erazemk/scanbin/internal/db"
	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/scan"
	"github.com/erazemk/scanbin/internal/store"
	"github.com/erazemk/scanbin/internal/tree"
)

const testJWTSecret = "test-secret"

type testServer struct {
	*httptest.Server
	token string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	database := db.NewTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr := tree.NewManager(database, tree.WithLogger(logger))
	classifier, err := barcode.NewClassifier("T=", "V=")
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	registry, err := action.NewRegistry(action.Builtins(mgr)...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	sessions := scan.NewMemoryStore(time.Hour, clock.Real{})
	svc := scan.NewService(classifier, mgr, registry, sessions, clock.Real{}, scan.UUIDGenerator{}, logger)

	router := NewRouter(Deps{
		DB:     database,
		Tree:   mgr,
		Scans:  svc,
		Tokens: auth.NewIssuer(testJWTSecret, time.Hour, clock.Real{}),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	ts := &testServer{Server: server}
	ts.addUser(t, database, "admin", model.RoleAdmin)
	ts.addUser(t, database, "worker", model.RoleUser)
	ts.token = ts.login(t, "admin")
	return ts
}

func (s *testServer) addUser(t *testing.T, database store.Querier, name, role string) {
	t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	if _, err := store.CreateUser(context.Background(), database, name, string(hash), role); err != nil {
		t.Fatalf("creating user %s: %v", name, err)
	}
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	var resp struct {
		Token string `json:"token"`
	}
	status := s.do(t, "POST", "/api/auth/login", "", map[string]string{"username": username, "password": "password"}, &resp)
	if status != http.StatusOK {
		t.Fatalf("login failed: %d", status)
	}
	if resp.Token == "" {
		t.Fatal("empty token from login")
	}
	return resp.Token
}

// do sends a JSON request and decodes the JSON response into out if it is
// not nil. It returns the status code.
func (s *testServer) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) createItem(t *testing.T, ref, name, parent string) {
	t.Helper()
	status := s.do(t, "POST", "/api/items", s.token, map[string]string{"reference": ref, "name": name, "parent": parent}, nil)
	if status != http.StatusCreated {
		t.Fatalf("creating %s: status %d", ref, status)
	}
}

func (s *testServer) openSession(t *testing.T, token string) string {
	t.Helper()
	var sess scan.Session
	if status := s.do(t, "POST", "/api/sessions", token, nil, &sess); status != http.StatusCreated {
		t.Fatalf("opening session: status %d", status)
	}
	return sess.ID
}

type scanReply struct {
	Kind      string               `json:"kind"`
	Error     string               `json:"error"`
	Code      string               `json:"code"`
	Location  string               `json:"location"`
	Item      *model.Item          `json:"item"`
	Created   *model.Item          `json:"created"`
	Input     *action.InputRequest `json:"input"`
	Session   *scan.Session        `json:"session"`
	Cancelled string               `json:"cancelled"`
}

func (s *testServer) scan(t *testing.T, id string, body map[string]any) (int, scanReply) {
	t.Helper()
	var reply scanReply
	status := s.do(t, "POST", "/api/sessions/"+id+"/scan", s.token, body, &reply)
	return status, reply
}

func TestLoginEndpoint(t *testing.T) {
	s := setupTestServer(t)

	if status := s.do(t, "POST", "/api/auth/login", "", map[string]string{"username": "admin", "password": "wrong"}, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", status)
	}
	if status := s.do(t, "POST", "/api/auth/login", "", map[string]string{"username": "admin"}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for missing password, got %d", status)
	}
	if status := s.do(t, "POST", "/api/auth/login", "", map[string]string{"username": "ghost", "password": "password"}, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown user, got %d", status)
	}

	var resp struct {
		Token     string      `json:"token"`
		ExpiresAt time.Time   `json:"expires_at"`
		User      *model.User `json:"user"`
	}
	if status := s.do(t, "POST", "/api/auth/login", "", map[string]string{"username": "admin", "password": "password"}, &resp); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.User == nil || resp.User.Username != "admin" || resp.User.Role != model.RoleAdmin {
		t.Errorf("unexpected user in login response: %+v", resp.User)
	}
	if !resp.ExpiresAt.After(time.Now()) {
		t.Errorf("expected expiry in the future, got %v", resp.ExpiresAt)
	}
}

func TestRequiresToken(t *testing.T) {
	s := setupTestServer(t)

	if status := s.do(t, "GET", "/api/history", "", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", status)
	}
	if status := s.do(t, "GET", "/api/history", "garbage", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for garbage token, got %d", status)
	}
}

func TestLogoutRevokesTokenAndClosesSession(t *testing.T) {
	s := setupTestServer(t)
	token := s.login(t, "admin")
	id := s.openSession(t, token)

	if status := s.do(t, "POST", "/api/auth/logout", token, map[string]string{"session_id": id}, nil); status != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", status)
	}
	if status := s.do(t, "GET", "/api/history", token, nil, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for revoked token, got %d", status)
	}
	if status := s.do(t, "GET", "/api/sessions/"+id, s.token, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected session to be closed, got %d", status)
	}
}

func TestChangePassword(t *testing.T) {
	s := setupTestServer(t)

	body := map[string]string{"current_password": "wrong", "new_password": "new-password"}
	if status := s.do(t, "PUT", "/api/auth/password", s.token, body, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong current password, got %d", status)
	}

	body = map[string]string{"current_password": "password", "new_password": "short"}
	if status := s.do(t, "PUT", "/api/auth/password", s.token, body, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", status)
	}

	body = map[string]string{"current_password": "password", "new_password": "new-password"}
	if status := s.do(t, "PUT", "/api/auth/password", s.token, body, nil); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	login := map[string]string{"username": "admin", "password": "new-password"}
	if status := s.do(t, "POST", "/api/auth/login", "", login, nil); status != http.StatusOK {
		t.Errorf("expected login with new password to succeed, got %d", status)
	}
}

func TestRoleEnforcement(t *testing.T) {
	s := setupTestServer(t)
	worker := s.login(t, "worker")

	if status := s.do(t, "GET", "/api/users", worker, nil, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 listing users as user, got %d", status)
	}
	if status := s.do(t, "POST", "/api/items", worker, map[string]string{"name": "Box"}, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 creating item as user, got %d", status)
	}

	s.createItem(t, "T=1", "Shed", "")
	s.createItem(t, "T=2", "Box", "")
	if status := s.do(t, "POST", "/api/items/T=2/move", worker, map[string]string{"parent": "T=1"}, nil); status != http.StatusOK {
		t.Errorf("expected users to be able to move items, got %d", status)
	}
}

func TestUsersEndpoints(t *testing.T) {
	s := setupTestServer(t)

	var created model.User
	body := map[string]string{"username": "clerk", "password": "password123", "role": model.RoleManager}
	if status := s.do(t, "POST", "/api/users", s.token, body, &created); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if status := s.do(t, "POST", "/api/users", s.token, body, nil); status != http.StatusConflict {
		t.Errorf("expected 409 for duplicate username, got %d", status)
	}
	body["username"], body["role"] = "other", "owner"
	if status := s.do(t, "POST", "/api/users", s.token, body, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown role, got %d", status)
	}

	var updated model.User
	path := "/api/users/" + jsonNumber(created.ID)
	if status := s.do(t, "PUT", path, s.token, map[string]string{"role": model.RoleUser}, &updated); status != http.StatusOK {
		t.Fatalf("expected 200 updating role, got %d", status)
	}
	if updated.Role != model.RoleUser {
		t.Errorf("expected role %q, got %q", model.RoleUser, updated.Role)
	}

	var users []model.User
	if status := s.do(t, "GET", "/api/users", s.token, nil, &users); status != http.StatusOK {
		t.Fatalf("expected 200 listing users, got %d", status)
	}
	if len(users) != 3 {
		t.Errorf("expected 3 users, got %d", len(users))
	}

	if status := s.do(t, "DELETE", path, s.token, nil, nil); status != http.StatusOK {
		t.Errorf("expected 200 deleting user, got %d", status)
	}
	if status := s.do(t, "GET", path, s.token, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 for deleted user, got %d", status)
	}
	if status := s.do(t, "PUT", path, s.token, map[string]string{"role": model.RoleAdmin}, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 updating deleted user, got %d", status)
	}
}

func TestUserProfileAndHistory(t *testing.T) {
	s := setupTestServer(t)
	s.createItem(t, "T=1", "Shed", "")
	s.createItem(t, "T=2", "Box", "T=1")

	var users []model.User
	s.do(t, "GET", "/api/users", s.token, nil, &users)
	var admin model.User
	for _, u := range users {
		if u.Username == "admin" {
			admin = u
		}
	}
	path := "/api/users/" + jsonNumber(admin.ID)

	var profile struct {
		Username string               `json:"username"`
		Recent   []model.HistoryEntry `json:"recent"`
	}
	if status := s.do(t, "GET", path, s.token, nil, &profile); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if profile.Username != "admin" || len(profile.Recent) != 2 {
		t.Errorf("expected admin with 2 recent changes, got %+v", profile)
	}

	var entries []model.HistoryEntry
	if status := s.do(t, "GET", path+"/history?limit=1", s.token, nil, &entries); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(entries) != 1 || entries[0].ItemReference != "T=2" {
		t.Errorf("expected the newest change to T=2, got %+v", entries)
	}
	if status := s.do(t, "GET", path+"/history?limit=x", s.token, nil, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", status)
	}

	if status := s.do(t, "PUT", path, s.token, map[string]string{"role": model.RoleUser}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 demoting yourself, got %d", status)
	}
	if status := s.do(t, "DELETE", path, s.token, nil, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 deleting yourself, got %d", status)
	}
}

func jsonNumber(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}

func TestScanMoveFlow(t *testing.T) {
	s := setupTestServer(t)
	s.createItem(t, "T=1", "Shed", "")
	s.createItem(t, "T=2", "Drill", "")
	id := s.openSession(t, s.token)

	status, reply := s.scan(t, id, map[string]any{"code": "t=2"})
	if status != http.StatusOK || reply.Kind != string(scan.ResultSelected) {
		t.Fatalf("expected item selected, got %d %+v", status, reply)
	}
	if reply.Session.Selected != "T=2" {
		t.Errorf("expected T=2 selected, got %q", reply.Session.Selected)
	}

	status, reply = s.scan(t, id, map[string]any{"code": "V=MOVE"})
	if status != http.StatusOK || reply.Kind != string(scan.ResultActionPending) {
		t.Fatalf("expected action pending, got %d %+v", status, reply)
	}

	status, reply = s.scan(t, id, map[string]any{"code": "T=1"})
	if status != http.StatusOK || reply.Kind != string(scan.ResultActionCompleted) {
		t.Fatalf("expected action completed, got %d %+v", status, reply)
	}
	if reply.Session.State != scan.StateItemSelected || reply.Session.Selected != "T=2" {
		t.Errorf("expected T=2 to stay selected, got %+v", reply.Session)
	}

	var item itemResponse
	if status := s.do(t, "GET", "/api/items/T=2", s.token, nil, &item); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if item.Location != "Shed" {
		t.Errorf("expected location Shed, got %q", item.Location)
	}
}

func TestScanErrors(t *testing.T) {
	s := setupTestServer(t)
	s.createItem(t, "T=1", "Shed", "")
	id := s.openSession(t, s.token)

	tests := []struct {
		code   string
		status int
		errTag string
	}{
		{"V=MOVE", http.StatusConflict, "no_item_selected"},
		{"V=NOPE", http.StatusBadRequest, "unknown_action"},
		{"T=", http.StatusBadRequest, "malformed_barcode"},
		{"   ", http.StatusBadRequest, "malformed_barcode"},
		{"0000000000", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		status, reply := s.scan(t, id, map[string]any{"code": tt.code})
		if status != tt.status || reply.Code != tt.errTag {
			t.Errorf("scan %q: expected %d %s, got %d %s", tt.code, tt.status, tt.errTag, status, reply.Code)
		}
	}

	var sess scan.Session
	s.do(t, "GET", "/api/sessions/"+id, s.token, nil, &sess)
	if sess.State != scan.StateIdle {
		t.Errorf("expected failed scans to leave the session idle, got %s", sess.State)
	}

	if status, _ := s.scan(t, "missing", map[string]any{"code": "T=1"}); status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", status)
	}
}

func TestScanAsksForInput(t *testing.T) {
	s := setupTestServer(t)
	s.createItem(t, "T=1", "Shed", "")
	id := s.openSession(t, s.token)

	status, reply := s.scan(t, id, map[string]any{"code": "T=50"})
	if status != http.StatusOK || reply.Kind != string(scan.ResultCreateRequested) {
		t.Fatalf("expected create request, got %d %+v", status, reply)
	}
	if reply.Input == nil || reply.Input.Kind != action.InputCreateLabel || reply.Input.Reference != "T=50" {
		t.Errorf("unexpected input request %+v", reply.Input)
	}

	status, reply = s.scan(t, id, map[string]any{"code": "T=50", "input": map[string]string{"label": "Toolbox"}})
	if status != http.StatusOK || reply.Kind != string(scan.ResultCreated) {
		t.Fatalf("expected created, got %d %+v", status, reply)
	}
	if reply.Created == nil || reply.Created.Name != "Toolbox" {
		t.Errorf("unexpected created item %+v", reply.Created)
	}

	status, reply = s.scan(t, id, map[string]any{"code": "V=DELETE"})
	if status != http.StatusUnprocessableEntity || reply.Code != "input_required" {
		t.Fatalf("expected 422 input_required, got %d %+v", status, reply)
	}
	if reply.Input == nil || reply.Input.Kind != action.InputDeleteReason {
		t.Errorf("expected a delete reason request, got %+v", reply.Input)
	}

	status, reply = s.scan(t, id, map[string]any{"code": "V=DELETE", "input": map[string]string{"reason": "broken"}})
	if status != http.StatusOK || reply.Kind != string(scan.ResultActionCompleted) {
		t.Fatalf("expected delete to complete, got %d %+v", status, reply)
	}
	if reply.Session.State != scan.StateIdle {
		t.Errorf("expected delete to clear the selection, got %s", reply.Session.State)
	}
}

func TestCancelPendingAction(t *testing.T) {
	s := setupTestServer(t)
	s.createItem(t, "T=1", "Shed", "")
	id := s.openSession(t, s.token)
	s.scan(t, id, map[string]any{"code": "T=1"})
	s.scan(t, id, map[string]any{"code": "V=MOVE"})

	var resp cancelResponse
	if status := s.do(t, "POST", "/api/sessions/"+id+"/cancel", s.token, nil, &resp); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.Cancelled != "MOVE" || resp.Session.State != scan.StateItemSelected {
		t.Errorf("unexpected cancel response %+v", resp)
	}
}

func TestSessionsArePrivate(t *testing.T) {
	s := setupTestServer(t)
	id := s.openSession(t, s.token)
	worker := s.login(t, "worker")

	if status := s.do(t, "GET", "/api/sessions/"+id, worker, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 for another user's session, got %d", status)
	}
	if status := s.do(t, "DELETE", "/api/sessions/"+id, worker, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 closing another user's session, got %d", status)
	}
	if status := s.do(t, "DELETE", "/api/sessions/"+id, s.token, nil, nil); status != http.StatusOK {
		t.Errorf("expected owner to close the session, got %d", status)
	}
}

func TestItemEndpoints(t *testing.T) {
	s := setupTestServer(t)
	s.createItem(t, "T=1", "Shed", "")
	s.createItem(t, "T=2", "Crate", "T=1")
	s.createItem(t, "T=3", "Drill", "T=2")

	if status := s.do(t, "POST", "/api/items", s.token, map[string]string{"reference": "T=1", "name": "Again"}, nil); status != http.StatusConflict {
		t.Errorf("expected 409 for duplicate reference, got %d", status)
	}
	if status := s.do(t, "POST", "/api/items", s.token, map[string]string{"reference": "0123", "name": "Bad"}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for non-internal reference, got %d", status)
	}

	var errResp errorBody
	if status := s.do(t, "POST", "/api/items/T=1/move", s.token, map[string]string{"parent": "T=3"}, &errResp); status != http.StatusConflict {
		t.Errorf("expected 409 moving into a descendant, got %d", status)
	}
	if errResp.Code != "cycle_detected" {
		t.Errorf("expected cycle_detected, got %q", errResp.Code)
	}

	var item itemResponse
	if status := s.do(t, "GET", "/api/items/T=3", s.token, nil, &item); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if item.Location != "Shed > Crate" {
		t.Errorf("expected location 'Shed > Crate', got %q", item.Location)
	}

	var bc model.ExternalBarcode
	if status := s.do(t, "POST", "/api/items/T=3/barcodes", s.token, map[string]string{"code": "012345678905", "kind": "upc"}, &bc); status != http.StatusCreated {
		t.Fatalf("expected 201 adding barcode, got %d", status)
	}
	if status := s.do(t, "POST", "/api/items/T=2/barcodes", s.token, map[string]string{"code": "012345678905"}, nil); status != http.StatusConflict {
		t.Errorf("expected 409 for barcode on a second item, got %d", status)
	}
	if status := s.do(t, "POST", "/api/items/T=2/barcodes", s.token, map[string]string{"code": "T=9"}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for internal code as external barcode, got %d", status)
	}

	if status := s.do(t, "GET", "/api/lookup/012345678905", s.token, nil, &item); status != http.StatusOK {
		t.Fatalf("expected 200 looking up barcode, got %d", status)
	}
	if item.Item.Reference != "T=3" {
		t.Errorf("expected lookup to find T=3, got %s", item.Item.Reference)
	}

	if status := s.do(t, "DELETE", "/api/items/T=2", s.token, map[string]string{"reason": "sold"}, nil); status != http.StatusOK {
		t.Fatalf("expected 200 deleting, got %d", status)
	}
	var children []model.Item
	s.do(t, "GET", "/api/items/T=1/children", s.token, nil, &children)
	if len(children) != 0 {
		t.Errorf("expected no live children after delete, got %d", len(children))
	}

	if status := s.do(t, "POST", "/api/items/T=2/restore", s.token, nil, &item); status != http.StatusOK {
		t.Fatalf("expected 200 restoring, got %d", status)
	}
	if item.Item.Deleted || item.Location != "Shed" {
		t.Errorf("expected T=2 restored into Shed, got deleted=%v location=%q", item.Item.Deleted, item.Location)
	}
	if status := s.do(t, "POST", "/api/items/T=2/restore", s.token, nil, nil); status != http.StatusConflict {
		t.Errorf("expected 409 restoring a live item, got %d", status)
	}

	var history []model.HistoryEntry
	s.do(t, "GET", "/api/items/T=2/history", s.token, nil, &history)
	if len(history) < 3 {
		t.Errorf("expected create, delete and restore entries, got %d", len(history))
	}

	var candidates []tree.Candidate
	s.do(t, "GET", "/api/items/T=1/move-candidates", s.token, nil, &candidates)
	if len(candidates) != 0 {
		t.Errorf("expected no candidates for the top container, got %d", len(candidates))
	}
}

func TestPhotoUploadAndFetch(t *testing.T) {
	s := setupTestServer(t)
	s.createItem(t, "T=1", "Drill", "")

	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var pngData bytes.Buffer
	if err := png.Encode(&pngData, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, _ := mw.CreateFormFile("image", "drill.png")
	part.Write(pngData.Bytes())
	mw.Close()

	req, _ := http.NewRequest("PUT", s.URL+"/api/items/T=1/photo", &form)
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 uploading photo, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest("GET", s.URL+"/api/items/T=1/photo", nil)
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 fetching photo, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}
}

func TestPhotoMissing(t *testing.T) {
	s := setupTestServer(t)
	s.createItem(t, "T=1", "Drill", "")

	if status := s.do(t, "GET", "/api/items/T=1/photo", s.token, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 without photo, got %d", status)
	}
}

func TestWebSocketScans(t *testing.T) {
	s := setupTestServer(t)
	s.createItem(t, "T=1", "Shed", "")
	id := s.openSession(t, s.token)

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/sessions/" + id + "/ws?token=" + s.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var reply struct {
		Status int       `json:"status"`
		Body   scanReply `json:"body"`
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("T=1\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Status != http.StatusOK || reply.Body.Kind != string(scan.ResultSelected) {
		t.Errorf("expected selection, got %+v", reply)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"code":"V=BOGUS"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Status != http.StatusBadRequest || reply.Body.Code != "unknown_action" {
		t.Errorf("expected unknown action, got %+v", reply)
	}
}

func TestHistoryAndActions(t *testing.T) {
	s := setupTestServer(t)
	s.createItem(t, "T=1", "Shed", "")
	s.createItem(t, "T=2", "Box", "T=1")

	var history []model.HistoryEntry
	if status := s.do(t, "GET", "/api/history?limit=1", s.token, nil, &history); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(history) != 1 || history[0].ItemReference != "T=2" {
		t.Errorf("expected the newest entry for T=2, got %+v", history)
	}
	if status := s.do(t, "GET", "/api/history?limit=zero", s.token, nil, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", status)
	}

	var actions []actionInfo
	if status := s.do(t, "GET", "/api/actions", s.token, nil, &actions); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	found := false
	for _, a := range actions {
		if a.Name == "MOVE" {
			found = true
			if !a.NeedsArgument || a.Barcode != "V=MOVE" {
				t.Errorf("unexpected MOVE entry %+v", a)
			}
		}
	}
	if !found {
		t.Error("expected MOVE in the action list")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t)
	s.do(t, "GET", "/api/history", s.token, nil, nil)

	resp, err := http.Get(s.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "scanbin_http_requests_total") {
		t.Error("expected HTTP request counter in metrics output")
	}
}
