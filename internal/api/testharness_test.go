package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcus/assetlock/internal/lockdb"
	"github.com/marcus/assetlock/internal/models"
)

var testScope = models.Scope{Origin: "git@example.com:game.git", Branch: "main"}

// TestHarness wraps a full Server with a real HTTP listener for integration tests.
type TestHarness struct {
	t       *testing.T
	Server  *Server
	Store   *lockdb.LockDB
	BaseURL string
	client  *http.Client
	httpSrv *httptest.Server
}

// newTestServer creates a Server backed by a temp database.
func newTestServer(t *testing.T, opts ...func(*Config)) (*Server, *lockdb.LockDB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "locks.db")
	store, err := lockdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open lock db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := Config{
		ListenAddr: ":0",
		DBPath:     dbPath,
		RateLimit:  100000,
		AdminToken: "admin-secret",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	t.Cleanup(func() { srv.rateLimiter.Close() })
	return srv, store
}

// newTestHarness creates a TestHarness with a real HTTP server on a random port.
func newTestHarness(t *testing.T, opts ...func(*Config)) *TestHarness {
	t.Helper()

	srv, store := newTestServer(t, opts...)
	httpSrv := httptest.NewServer(srv.routes())

	h := &TestHarness{
		t:       t,
		Server:  srv,
		Store:   store,
		BaseURL: httpSrv.URL,
		client:  &http.Client{},
		httpSrv: httpSrv,
	}

	t.Cleanup(func() {
		srv.hub.CloseAll()
		httpSrv.Close()
	})

	return h
}

// PostForm posts form-encoded lock fields the way the editor plugin does.
func (h *TestHarness) PostForm(path string, s models.Scope, file, user string) (*http.Response, LockResponse) {
	h.t.Helper()
	form := url.Values{
		"branch":   {s.Branch},
		"origin":   {s.Origin},
		"filePath": {file},
		"userName": {user},
	}
	resp, err := h.client.PostForm(h.BaseURL+path, form)
	if err != nil {
		h.t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out LockResponse
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &out); err != nil {
		h.t.Fatalf("decode %s response %q: %v", path, body, err)
	}
	return resp, out
}

// GetJSON fetches path and decodes the JSON body into out.
func (h *TestHarness) GetJSON(path string, out any) *http.Response {
	h.t.Helper()
	resp, err := h.client.Get(h.BaseURL + path)
	if err != nil {
		h.t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			h.t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

func scopeQuery(s models.Scope, extra ...string) string {
	v := url.Values{"branch": {s.Branch}, "origin": {s.Origin}}
	for i := 0; i+1 < len(extra); i += 2 {
		v.Set(extra[i], extra[i+1])
	}
	return "?" + v.Encode()
}

// doRequest runs a request through the handler chain without a listener.
func doRequest(srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	return w
}

// doForm runs a form-encoded POST through the handler chain.
func doForm(srv *Server, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	return w
}

func newRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
