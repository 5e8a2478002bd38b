package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/marcus/assetlock/internal/lockdb"
	"github.com/marcus/assetlock/internal/models"
)

// LockRequest is the body of POST /lock and POST /unlock. Field names match
// the form fields the editor plugin posts.
type LockRequest struct {
	Branch   string `json:"branch"`
	Origin   string `json:"origin"`
	FilePath string `json:"filePath"`
	UserName string `json:"userName"`
}

// LockResponse is the structured decision for a lock or unlock request.
type LockResponse struct {
	Result  models.LockOutcome `json:"result"`
	Message string             `json:"message"`
	Holder  string             `json:"holder,omitempty"`
}

// LockTableResponse is the body of GET /lockedAssets.
type LockTableResponse struct {
	Locks models.LockTable `json:"Locks"`
}

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	Events []models.LockEvent `json:"events"`
}

// Messages keep the phrases older clients look for in the body.
const (
	msgLocked        = "locked successfully"
	msgAlreadyLocked = "already locked by you"
	msgUnlocked      = "unlocked successfully"
	msgNotLocked     = "not locked"
)

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	req, ok := parseLockRequest(w, r)
	if !ok {
		return
	}
	scope := models.Scope{Origin: req.Origin, Branch: req.Branch}

	d, err := s.store.Acquire(scope, req.FilePath, req.UserName)
	if err != nil {
		logFor(r.Context()).Error("acquire lock", "path", req.FilePath, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to acquire lock")
		return
	}

	log := logFor(r.Context()).With("scope", scope.String(), "path", req.FilePath, "user", req.UserName)
	switch d.Outcome {
	case models.OutcomeLocked:
		s.metrics.RecordLockGranted()
		log.Info("locked")
		s.broadcastChange(scope, req.FilePath, d.Holder, models.ActionLock)
		writeJSON(w, http.StatusOK, LockResponse{Result: d.Outcome, Message: msgLocked, Holder: d.Holder})
	case models.OutcomeAlreadyLocked:
		writeJSON(w, http.StatusOK, LockResponse{Result: d.Outcome, Message: msgAlreadyLocked, Holder: d.Holder})
	default:
		s.metrics.RecordLockRejected()
		log.Info("lock rejected", "holder", d.Holder)
		writeJSON(w, http.StatusConflict, LockResponse{
			Result:  models.OutcomeRejected,
			Message: "locked by " + d.Holder,
			Holder:  d.Holder,
		})
	}
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	req, ok := parseLockRequest(w, r)
	if !ok {
		return
	}
	scope := models.Scope{Origin: req.Origin, Branch: req.Branch}

	d, err := s.store.Release(scope, req.FilePath, req.UserName)
	if err != nil {
		logFor(r.Context()).Error("release lock", "path", req.FilePath, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to release lock")
		return
	}

	log := logFor(r.Context()).With("scope", scope.String(), "path", req.FilePath, "user", req.UserName)
	switch d.Outcome {
	case models.OutcomeUnlocked:
		s.metrics.RecordUnlock()
		log.Info("unlocked")
		s.broadcastChange(scope, req.FilePath, "", models.ActionUnlock)
		writeJSON(w, http.StatusOK, LockResponse{Result: d.Outcome, Message: msgUnlocked})
	case models.OutcomeNotLocked:
		writeJSON(w, http.StatusOK, LockResponse{Result: d.Outcome, Message: msgNotLocked})
	default:
		s.metrics.RecordLockRejected()
		log.Info("unlock rejected", "holder", d.Holder)
		writeJSON(w, http.StatusConflict, LockResponse{
			Result:  models.OutcomeRejected,
			Message: "unlock failed: locked by " + d.Holder,
			Holder:  d.Holder,
		})
	}
}

func (s *Server) handleLockedAssets(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	table, err := s.store.ListLocks(scope)
	if err != nil {
		logFor(r.Context()).Error("list locks", "scope", scope.String(), "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list locks")
		return
	}
	writeJSON(w, http.StatusOK, LockTableResponse{Locks: table})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	path := strings.TrimSpace(r.URL.Query().Get("filePath"))
	if path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "filePath is required")
		return
	}
	st, err := s.store.Status(scope, path)
	if err != nil {
		logFor(r.Context()).Error("lock status", "path", path, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read lock status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid limit")
			return
		}
		limit = min(n, 500)
	}
	events, err := s.store.History(scope, strings.TrimSpace(r.URL.Query().Get("filePath")), limit)
	if err != nil {
		logFor(r.Context()).Error("lock history", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read history")
		return
	}
	if events == nil {
		events = []models.LockEvent{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Events: events})
}

// handleAdminListLocks lists locks across all scopes, optionally by holder.
func (s *Server) handleAdminListLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := s.store.ListAllLocks(r.URL.Query().Get("holder"))
	if err != nil {
		logFor(r.Context()).Error("admin list locks", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list locks")
		return
	}
	if locks == nil {
		locks = []lockdb.ScopedLock{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locks": locks})
}

// handleAdminForceUnlock removes a lock regardless of holder.
func (s *Server) handleAdminForceUnlock(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	path := strings.TrimSpace(r.URL.Query().Get("filePath"))
	if path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "filePath is required")
		return
	}

	prev, err := s.store.ForceRelease(scope, path, "admin")
	if errors.Is(err, lockdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "resource is not locked")
		return
	}
	if err != nil {
		logFor(r.Context()).Error("force unlock", "path", path, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to force unlock")
		return
	}

	s.metrics.RecordForceUnlock()
	logFor(r.Context()).Warn("force unlocked", "scope", scope.String(), "path", path, "previous_holder", prev)
	s.broadcastChange(scope, path, "", models.ActionForceUnlock)
	writeJSON(w, http.StatusOK, map[string]string{
		"result":          string(models.OutcomeUnlocked),
		"previous_holder": prev,
	})
}

// parseLockRequest accepts a JSON body or form fields and validates that all
// four fields are present.
func parseLockRequest(w http.ResponseWriter, r *http.Request) (LockRequest, bool) {
	var req LockRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return req, false
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid form body")
			return req, false
		}
		req = LockRequest{
			Branch:   r.PostForm.Get("branch"),
			Origin:   r.PostForm.Get("origin"),
			FilePath: r.PostForm.Get("filePath"),
			UserName: r.PostForm.Get("userName"),
		}
	}

	req.Branch = strings.TrimSpace(req.Branch)
	req.Origin = strings.TrimSpace(req.Origin)
	req.FilePath = strings.TrimSpace(req.FilePath)
	req.UserName = strings.TrimSpace(req.UserName)

	var missing []string
	for _, f := range []struct{ name, val string }{
		{"branch", req.Branch}, {"origin", req.Origin}, {"filePath", req.FilePath}, {"userName", req.UserName},
	} {
		if f.val == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("missing fields: %s", strings.Join(missing, ", ")))
		return req, false
	}
	return req, true
}

func scopeFromQuery(w http.ResponseWriter, r *http.Request) (models.Scope, bool) {
	q := r.URL.Query()
	s := models.Scope{
		Origin: strings.TrimSpace(q.Get("origin")),
		Branch: strings.TrimSpace(q.Get("branch")),
	}
	if s.Origin == "" || s.Branch == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "branch and origin are required")
		return s, false
	}
	return s, true
}
