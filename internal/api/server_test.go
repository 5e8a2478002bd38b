package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/marcus/assetlock/internal/models"
)

func lockBody(s models.Scope, file, user string) LockRequest {
	return LockRequest{Branch: s.Branch, Origin: s.Origin, FilePath: file, UserName: user}
}

func decodeLock(t *testing.T, body *strings.Reader) LockResponse {
	t.Helper()
	var resp LockResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decode lock response: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "GET", "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestLockJSON(t *testing.T) {
	srv, store := newTestServer(t)

	w := doRequest(srv, "POST", "/lock", "", lockBody(testScope, "Assets/Hero.prefab", "alice"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeLock(t, strings.NewReader(w.Body.String()))
	if resp.Result != models.OutcomeLocked || resp.Message != "locked successfully" {
		t.Errorf("unexpected response: %+v", resp)
	}

	st, _ := store.Status(testScope, "Assets/Hero.prefab")
	if st.Holder != "alice" {
		t.Errorf("store holder: got %q", st.Holder)
	}
}

func TestLockForm(t *testing.T) {
	srv, _ := newTestServer(t)

	form := url.Values{
		"branch":   {testScope.Branch},
		"origin":   {testScope.Origin},
		"filePath": {"Assets/Level.unity"},
		"userName": {"alice"},
	}
	w := doForm(srv, "/lock", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doForm(srv, "/lock", form)
	resp := decodeLock(t, strings.NewReader(w.Body.String()))
	if resp.Result != models.OutcomeAlreadyLocked || !strings.Contains(resp.Message, "already locked by you") {
		t.Errorf("expected already_locked, got %+v", resp)
	}
}

func TestLockConflict(t *testing.T) {
	srv, store := newTestServer(t)
	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "a.prefab", "alice"))

	w := doRequest(srv, "POST", "/lock", "", lockBody(testScope, "a.prefab", "bob"))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	resp := decodeLock(t, strings.NewReader(w.Body.String()))
	if resp.Result != models.OutcomeRejected || resp.Holder != "alice" || resp.Message != "locked by alice" {
		t.Errorf("unexpected rejection: %+v", resp)
	}
	if strings.Contains(resp.Message, "locked successfully") {
		t.Error("rejection must not contain the legacy success phrase")
	}

	st, _ := store.Status(testScope, "a.prefab")
	if st.Holder != "alice" {
		t.Errorf("holder changed to %q", st.Holder)
	}
}

func TestLockMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "POST", "/lock", "", LockRequest{Branch: "main", FilePath: "a.prefab"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != ErrCodeBadRequest || !strings.Contains(resp.Error.Message, "origin") || !strings.Contains(resp.Error.Message, "userName") {
		t.Errorf("unexpected error: %+v", resp.Error)
	}
}

func TestLockInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	req := strings.NewReader("{not json")
	r, _ := http.NewRequest("POST", "/lock", req)
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	w := newRecorder()
	srv.routes().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUnlock(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "a.prefab", "alice"))

	w := doRequest(srv, "POST", "/unlock", "", lockBody(testScope, "a.prefab", "bob"))
	if w.Code != http.StatusConflict {
		t.Fatalf("foreign unlock: expected 409, got %d", w.Code)
	}
	resp := decodeLock(t, strings.NewReader(w.Body.String()))
	if !strings.Contains(resp.Message, "fail") {
		t.Errorf("legacy clients detect failure by substring, got %q", resp.Message)
	}

	w = doRequest(srv, "POST", "/unlock", "", lockBody(testScope, "a.prefab", "alice"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp = decodeLock(t, strings.NewReader(w.Body.String()))
	if resp.Result != models.OutcomeUnlocked {
		t.Errorf("expected unlocked, got %s", resp.Result)
	}

	w = doRequest(srv, "POST", "/unlock", "", lockBody(testScope, "a.prefab", "alice"))
	if w.Code != http.StatusOK {
		t.Fatalf("second unlock: expected 200, got %d", w.Code)
	}
	resp = decodeLock(t, strings.NewReader(w.Body.String()))
	if resp.Result != models.OutcomeNotLocked {
		t.Errorf("expected not_locked, got %s", resp.Result)
	}
	for _, marker := range []string{"error", "fail"} {
		if strings.Contains(resp.Message, marker) {
			t.Errorf("idempotent unlock message contains %q: %q", marker, resp.Message)
		}
	}
}

func TestLockedAssets(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "GET", "/lockedAssets"+scopeQuery(testScope), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"Locks":{}`) {
		t.Errorf("empty table must encode as an object, got %s", w.Body.String())
	}

	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "a.prefab", "alice"))
	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "b.unity", "bob"))
	doRequest(srv, "POST", "/lock", "", lockBody(models.Scope{Origin: testScope.Origin, Branch: "other"}, "c.prefab", "carol"))

	w = doRequest(srv, "GET", "/lockedAssets"+scopeQuery(testScope), "", nil)
	var table LockTableResponse
	json.NewDecoder(w.Body).Decode(&table)
	if len(table.Locks) != 2 || table.Locks["a.prefab"] != "alice" || table.Locks["b.unity"] != "bob" {
		t.Errorf("unexpected table: %v", table.Locks)
	}
}

func TestLockedAssetsRequiresScope(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(srv, "GET", "/lockedAssets?branch=main", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "a.prefab", "alice"))

	w := doRequest(srv, "GET", "/status"+scopeQuery(testScope, "filePath", "a.prefab"), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st struct {
		Locked bool
		User   string
	}
	json.NewDecoder(w.Body).Decode(&st)
	if !st.Locked || st.User != "alice" {
		t.Errorf("unexpected status: %+v", st)
	}

	w = doRequest(srv, "GET", "/status"+scopeQuery(testScope, "filePath", "free.prefab"), "", nil)
	json.NewDecoder(w.Body).Decode(&st)
	if st.Locked || st.User != "" {
		t.Errorf("expected unlocked, got %+v", st)
	}

	w = doRequest(srv, "GET", "/status"+scopeQuery(testScope), "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing filePath: expected 400, got %d", w.Code)
	}
}

func TestHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "a.prefab", "alice"))
	doRequest(srv, "POST", "/unlock", "", lockBody(testScope, "a.prefab", "alice"))

	w := doRequest(srv, "GET", "/history"+scopeQuery(testScope, "filePath", "a.prefab", "limit", "10"), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp HistoryResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Events) != 2 || resp.Events[0].Action != models.ActionUnlock {
		t.Errorf("unexpected history: %+v", resp.Events)
	}

	w = doRequest(srv, "GET", "/history"+scopeQuery(testScope, "limit", "x"), "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid limit: expected 400, got %d", w.Code)
	}
}

func TestAdminForceUnlock(t *testing.T) {
	srv, store := newTestServer(t)
	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "a.prefab", "alice"))
	path := "/admin/locks" + scopeQuery(testScope, "filePath", "a.prefab")

	if w := doRequest(srv, "DELETE", path, "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", w.Code)
	}
	if w := doRequest(srv, "DELETE", path, "wrong", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", w.Code)
	}

	w := doRequest(srv, "DELETE", path, "admin-secret", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["previous_holder"] != "alice" {
		t.Errorf("unexpected response: %v", resp)
	}
	if st, _ := store.Status(testScope, "a.prefab"); st.Locked {
		t.Error("expected lock removed")
	}

	if w := doRequest(srv, "DELETE", path, "admin-secret", nil); w.Code != http.StatusNotFound {
		t.Errorf("second force unlock: expected 404, got %d", w.Code)
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.AdminToken = "" })
	w := doRequest(srv, "GET", "/admin/locks", "anything", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestAdminListLocks(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "a.prefab", "alice"))
	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "b.prefab", "bob"))

	w := doRequest(srv, "GET", "/admin/locks?holder=bob", "admin-secret", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Locks []struct {
			Scope    models.Scope `json:"scope"`
			FilePath string       `json:"file_path"`
			Holder   string       `json:"holder"`
		} `json:"locks"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Locks) != 1 || resp.Locks[0].FilePath != "b.prefab" || resp.Locks[0].Scope != testScope {
		t.Errorf("unexpected locks: %+v", resp.Locks)
	}
}

func TestMetricsCountDecisions(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "a.prefab", "alice"))
	doRequest(srv, "POST", "/lock", "", lockBody(testScope, "a.prefab", "bob"))
	doRequest(srv, "POST", "/unlock", "", lockBody(testScope, "a.prefab", "alice"))

	w := doRequest(srv, "GET", "/metricz", "", nil)
	var snap MetricsSnapshot
	json.NewDecoder(w.Body).Decode(&snap)
	if snap.LocksGranted != 1 || snap.LocksRejected != 1 || snap.Unlocks != 1 {
		t.Errorf("unexpected metrics: %+v", snap)
	}
	if snap.ClientErrors != 1 {
		t.Errorf("409 should count as a client error, got %d", snap.ClientErrors)
	}
}

func TestConcurrentLockOneWinner(t *testing.T) {
	h := newTestHarness(t)

	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			resp, out := h.PostForm("/lock", testScope, "Assets/Shared.prefab", u)
			if resp.StatusCode == http.StatusOK && out.Result == models.OutcomeLocked {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()

	if granted != 1 {
		t.Fatalf("expected exactly one grant, got %d", granted)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := newRecorder()
	r, _ := http.NewRequest("GET", "/", nil)
	h.ServeHTTP(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(srv, "GET", "/healthz", "", nil)
	if len(w.Header().Get("X-Request-ID")) != 32 {
		t.Errorf("expected 32-char request id, got %q", w.Header().Get("X-Request-ID"))
	}
}
