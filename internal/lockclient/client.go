// Package lockclient talks to the lock service. Every call is made at most
// once and classified as accepted, rejected or indeterminate.
package lockclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/assetlock/internal/models"
)

// DefaultTimeout bounds every request when none is configured.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

// ScopeSource supplies the scope key for each call.
type ScopeSource interface {
	Current() models.Scope
}

// IdentitySource supplies the user name for mutations.
type IdentitySource interface {
	CurrentUser() (string, error)
}

// Client is an HTTP client for the lock service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration

	scopes   ScopeSource
	identity IdentitySource
	logger   *slog.Logger
}

// New creates a lock client. A zero timeout uses DefaultTimeout.
func New(baseURL string, scopes ScopeSource, identity IdentitySource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     &http.Client{Timeout: timeout},
		Timeout:  timeout,
		scopes:   scopes,
		identity: identity,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger used for request diagnostics.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// Scope returns the scope the next call will use.
func (c *Client) Scope() models.Scope {
	return c.scopes.Current()
}

// CurrentUser returns the configured identity.
func (c *Client) CurrentUser() (string, error) {
	return c.identity.CurrentUser()
}

// Result is an accepted lock or unlock decision.
type Result struct {
	Outcome models.LockOutcome
	Message string
	Holder  string
}

// lockResponse mirrors the server's decision body, independently defined.
type lockResponse struct {
	Result  models.LockOutcome `json:"result"`
	Message string             `json:"message"`
	Holder  string             `json:"holder"`
}

// RequestLock asks the service to lock path for the current user.
func (c *Client) RequestLock(ctx context.Context, path string) (*Result, error) {
	return c.mutate(ctx, "lock", path)
}

// ReleaseLock asks the service to unlock path for the current user.
// Releasing an unlocked path is a success.
func (c *Client) ReleaseLock(ctx context.Context, path string) (*Result, error) {
	return c.mutate(ctx, "unlock", path)
}

func (c *Client) mutate(ctx context.Context, op, path string) (*Result, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, &Error{Kind: ErrPrecondition, Op: op, Reason: "empty resource path"}
	}
	user, err := c.identity.CurrentUser()
	if err != nil {
		return nil, &Error{Kind: ErrPrecondition, Op: op, Path: path, Reason: err.Error(), Err: err}
	}
	scope := c.scopes.Current()

	form := url.Values{
		"branch":   {scope.Branch},
		"origin":   {scope.Origin},
		"filePath": {path},
		"userName": {user},
	}
	status, body, err := c.send(ctx, http.MethodPost, "/"+op, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, c.transportError(op, path, err)
	}

	res, err := classifyDecision(op, status, body)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Path = path
		}
		c.logger.Debug("lock request refused", "op", op, "path", path, "scope", scope.String(), "err", err)
		return nil, err
	}
	c.logger.Debug("lock request accepted", "op", op, "path", path, "scope", scope.String(), "outcome", res.Outcome)
	return res, nil
}

// classifyDecision maps a lock or unlock response to an outcome. Structured
// bodies are authoritative and must carry a result; only non-JSON bodies
// from older servers fall back to phrase matching.
func classifyDecision(op string, status int, body []byte) (*Result, error) {
	switch status {
	case http.StatusOK, http.StatusConflict:
	default:
		return nil, &Error{Kind: ErrIndeterminate, Op: op, Reason: fmt.Sprintf("HTTP %d", status)}
	}

	if json.Valid(body) {
		var resp lockResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.Result == "" {
			return nil, &Error{Kind: ErrUnexpected, Op: op, Reason: "decision body missing result", Err: err}
		}
		return structuredDecision(op, status, resp)
	}
	if status == http.StatusConflict {
		msg := strings.TrimSpace(string(body))
		return nil, &Error{Kind: ErrRejected, Op: op, Reason: msg, Holder: holderFromMessage(msg)}
	}
	return legacyDecision(op, string(body))
}

func structuredDecision(op string, status int, resp lockResponse) (*Result, error) {
	if status == http.StatusConflict && resp.Result.Accepted() {
		return nil, &Error{Kind: ErrUnexpected, Op: op, Reason: fmt.Sprintf("conflict status with result %q", resp.Result)}
	}
	if resp.Result == models.OutcomeRejected || status == http.StatusConflict {
		reason := resp.Message
		if reason == "" && resp.Holder != "" {
			reason = "locked by " + resp.Holder
		}
		return nil, &Error{Kind: ErrRejected, Op: op, Reason: reason, Holder: resp.Holder}
	}

	var valid bool
	switch op {
	case "lock":
		valid = resp.Result == models.OutcomeLocked || resp.Result == models.OutcomeAlreadyLocked
	case "unlock":
		valid = resp.Result == models.OutcomeUnlocked || resp.Result == models.OutcomeNotLocked
	}
	if !valid {
		return nil, &Error{Kind: ErrUnexpected, Op: op, Reason: fmt.Sprintf("unexpected result %q", resp.Result)}
	}
	return &Result{Outcome: resp.Result, Message: resp.Message, Holder: resp.Holder}, nil
}

func legacyDecision(op, body string) (*Result, error) {
	msg := strings.TrimSpace(body)
	if op == "lock" {
		switch {
		case strings.Contains(msg, "already locked by you"):
			return &Result{Outcome: models.OutcomeAlreadyLocked, Message: msg}, nil
		case strings.Contains(msg, "locked successfully"):
			return &Result{Outcome: models.OutcomeLocked, Message: msg}, nil
		}
		return nil, &Error{Kind: ErrRejected, Op: op, Reason: msg, Holder: holderFromMessage(msg)}
	}

	lower := strings.ToLower(msg)
	if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
		return nil, &Error{Kind: ErrRejected, Op: op, Reason: msg, Holder: holderFromMessage(msg)}
	}
	if strings.Contains(lower, "not locked") {
		return &Result{Outcome: models.OutcomeNotLocked, Message: msg}, nil
	}
	return &Result{Outcome: models.OutcomeUnlocked, Message: msg}, nil
}

// holderFromMessage extracts the holder from "... locked by <name>".
func holderFromMessage(msg string) string {
	const marker = "locked by "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	h := strings.TrimSpace(msg[i+len(marker):])
	if h == "you" {
		return ""
	}
	return h
}

// lockTableResponse mirrors GET /lockedAssets. A null map is malformed.
type lockTableResponse struct {
	Locks *models.LockTable `json:"Locks"`
}

// QueryLockTable fetches the full lock table for s.
func (c *Client) QueryLockTable(ctx context.Context, s models.Scope) (models.LockTable, error) {
	const op = "lockedAssets"
	q := url.Values{"branch": {s.Branch}, "origin": {s.Origin}}
	status, body, err := c.send(ctx, http.MethodGet, "/lockedAssets?"+q.Encode(), nil)
	if err != nil {
		return nil, c.transportError(op, "", err)
	}
	if status != http.StatusOK {
		return nil, &Error{Kind: ErrIndeterminate, Op: op, Reason: fmt.Sprintf("HTTP %d", status)}
	}

	var resp lockTableResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: ErrUnexpected, Op: op, Reason: "undecodable lock table", Err: err}
	}
	if resp.Locks == nil || *resp.Locks == nil {
		return nil, &Error{Kind: ErrUnexpected, Op: op, Reason: "lock table missing Locks"}
	}
	return *resp.Locks, nil
}

// statusResponse mirrors GET /status.
type statusResponse struct {
	Locked *bool  `json:"Locked"`
	User   string `json:"User"`
}

// QuerySingleStatus fetches the current status of one path in the current scope.
func (c *Client) QuerySingleStatus(ctx context.Context, path string) (models.LockStatus, error) {
	const op = "status"
	path = strings.TrimSpace(path)
	if path == "" {
		return models.LockStatus{}, &Error{Kind: ErrPrecondition, Op: op, Reason: "empty resource path"}
	}
	s := c.scopes.Current()
	q := url.Values{"branch": {s.Branch}, "origin": {s.Origin}, "filePath": {path}}
	status, body, err := c.send(ctx, http.MethodGet, "/status?"+q.Encode(), nil)
	if err != nil {
		return models.LockStatus{}, c.transportError(op, path, err)
	}
	if status != http.StatusOK {
		return models.LockStatus{}, &Error{Kind: ErrIndeterminate, Op: op, Path: path, Reason: fmt.Sprintf("HTTP %d", status)}
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.LockStatus{}, &Error{Kind: ErrUnexpected, Op: op, Path: path, Reason: "undecodable status", Err: err}
	}
	if resp.Locked == nil {
		return models.LockStatus{}, &Error{Kind: ErrUnexpected, Op: op, Path: path, Reason: "status missing Locked"}
	}
	if *resp.Locked && resp.User == "" {
		return models.LockStatus{}, &Error{Kind: ErrUnexpected, Op: op, Path: path, Reason: "locked status without holder"}
	}
	return models.LockStatus{Locked: *resp.Locked, Holder: resp.User}, nil
}

type historyResponse struct {
	Events []models.LockEvent `json:"events"`
}

// QueryHistory fetches recent lock events for the current scope, newest
// first. An empty path returns events for every path.
func (c *Client) QueryHistory(ctx context.Context, path string, limit int) ([]models.LockEvent, error) {
	const op = "history"
	s := c.scopes.Current()
	q := url.Values{"branch": {s.Branch}, "origin": {s.Origin}}
	if path = strings.TrimSpace(path); path != "" {
		q.Set("filePath", path)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	status, body, err := c.send(ctx, http.MethodGet, "/history?"+q.Encode(), nil)
	if err != nil {
		return nil, c.transportError(op, path, err)
	}
	if status != http.StatusOK {
		return nil, &Error{Kind: ErrIndeterminate, Op: op, Path: path, Reason: fmt.Sprintf("HTTP %d", status)}
	}

	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: ErrUnexpected, Op: op, Path: path, Reason: "undecodable history", Err: err}
	}
	return resp.Events, nil
}

// HealthCheck reports whether the service answers /healthz.
func (c *Client) HealthCheck(ctx context.Context) error {
	status, _, err := c.send(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return c.transportError("healthz", "", err)
	}
	if status != http.StatusOK {
		return &Error{Kind: ErrIndeterminate, Op: "healthz", Reason: fmt.Sprintf("HTTP %d", status)}
	}
	return nil
}

// --- HTTP helpers ---

// send performs one request bounded by the client timeout. A non-nil body
// is sent as a form.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) transportError(op, path string, err error) *Error {
	reason := "transport failure"
	if isTimeout(err) {
		reason = "timeout"
	}
	c.logger.Debug("lock service unreachable", "op", op, "path", path, "err", err)
	return &Error{Kind: ErrIndeterminate, Op: op, Path: path, Reason: reason, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
