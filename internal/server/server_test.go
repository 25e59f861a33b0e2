package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"todobook/internal/config"
	"todobook/internal/db"
	"todobook/internal/engine"
	"todobook/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asUser(userID string) map[string]string {
	return map[string]string{"X-User-Id": userID}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/books", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code %q", code)
	}

	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestJWTBearerAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/books", map[string]any{
		"title": "Via JWT",
	}, map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with jwt: %d %s", res.StatusCode, string(data))
	}
	var book struct {
		CreatorID string `json:"creator_id"`
	}
	_ = json.Unmarshal(data, &book)
	if book.CreatorID != "alice" {
		t.Fatalf("creator from subject claim: %q", book.CreatorID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/books", nil, map[string]string{"Authorization": "Bearer garbage"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d %s", res.StatusCode, string(data))
	}
}

func TestBookTaskFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/books", map[string]any{
		"title": "Chores",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create book: %d %s", res.StatusCode, string(data))
	}
	var book BookResponse
	if err := json.Unmarshal(data, &book); err != nil {
		t.Fatalf("unmarshal book: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/books/"+book.ID+"/tasks", map[string]any{
		"title":    "Vacuum",
		"priority": "high",
		"tags":     []map[string]string{{"kind": "label", "label": "home"}},
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	_ = json.Unmarshal(data, &task)
	if task.Priority != "high" || len(task.Tags) != 1 {
		t.Fatalf("task fields: %+v", task)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/status", map[string]any{
		"status": "completed",
	}, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var done TaskResponse
	_ = json.Unmarshal(data, &done)
	if done.Status != "completed" || done.CompletedAt == nil {
		t.Fatalf("completion fields: %+v", done)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/books/"+book.ID, nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get book: %d", res.StatusCode)
	}
	var updated BookResponse
	_ = json.Unmarshal(data, &updated)
	if updated.ItemCount != 1 || updated.CompletedCount != 1 {
		t.Fatalf("counters: %+v", updated)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/books/"+book.ID+"/tasks?status=completed", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d %s", res.StatusCode, string(data))
	}
	var page paginatedTasks
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 || page.Total == nil || *page.Total != 1 {
		t.Fatalf("task page: %s", string(data))
	}
}

func TestErrorTaxonomy(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// invalid_param: empty title
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/books", map[string]any{"title": ""}, asUser("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty title: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_param" {
		t.Fatalf("code %q", code)
	}

	// not_found: unknown book
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/books/nope", nil, asUser("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing book: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("code %q", code)
	}

	// forbidden: existing book, wrong user
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/books", map[string]any{"title": "Locked"}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", res.StatusCode)
	}
	var book BookResponse
	_ = json.Unmarshal(data, &book)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/books/"+book.ID, nil, asUser("mallory"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("code %q", code)
	}
}

func TestSharePreviewPublicAndImport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/books", map[string]any{"title": "Open House"}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create book: %d", res.StatusCode)
	}
	var book BookResponse
	_ = json.Unmarshal(data, &book)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/books/"+book.ID+"/share", map[string]any{
		"include_comments": true,
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create share: %d %s", res.StatusCode, string(data))
	}
	var share ShareResponse
	_ = json.Unmarshal(data, &share)
	if len(share.Code) != 6 {
		t.Fatalf("share code: %q", share.Code)
	}

	// preview needs no credentials at all
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/shares/"+share.Code+"/preview", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("public preview: %d %s", res.StatusCode, string(data))
	}
	var preview SharePreviewResponse
	_ = json.Unmarshal(data, &preview)
	if preview.Title != "Open House" {
		t.Fatalf("preview: %+v", preview)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/shares/"+share.Code+"/import", map[string]any{}, asUser("bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import: %d %s", res.StatusCode, string(data))
	}
	var copied BookResponse
	_ = json.Unmarshal(data, &copied)
	if copied.CreatorID != "bob" || copied.ID == book.ID {
		t.Fatalf("imported copy: %+v", copied)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"name": "ci",
	}, asUser("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	_ = json.Unmarshal(data, &key)
	if key.Key == "" {
		t.Fatalf("raw key must be returned on creation")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/books", map[string]any{
		"title": "Via Key",
	}, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with api key: %d %s", res.StatusCode, string(data))
	}
	var book BookResponse
	_ = json.Unmarshal(data, &book)
	if book.CreatorID != "alice" {
		t.Fatalf("key resolves to owner: %q", book.CreatorID)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/books", nil, map[string]string{"X-Api-Key": "tbk_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key: %d", res.StatusCode)
	}

	// listing never reveals raw keys
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/apikeys", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys: %d", res.StatusCode)
	}
	var keys []APIKeyResponse
	_ = json.Unmarshal(data, &keys)
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("key listing: %s", string(data))
	}
}
