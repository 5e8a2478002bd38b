package models

import (
	"sort"
	"time"
)

// Scope identifies a lock namespace. Two scopes with a different origin or
// branch never share lock state.
type Scope struct {
	Origin string `json:"origin"`
	Branch string `json:"branch"`
}

// UnknownScopeValue is used when the origin or branch cannot be determined.
const UnknownScopeValue = "unknown"

// IsZero reports whether neither origin nor branch is set.
func (s Scope) IsZero() bool {
	return s.Origin == "" && s.Branch == ""
}

func (s Scope) String() string {
	return s.Origin + "@" + s.Branch
}

// LockEntry is a single resource held by a user within a scope.
type LockEntry struct {
	ResourcePath string    `json:"file_path"`
	Holder       string    `json:"holder"`
	LockedAt     time.Time `json:"locked_at,omitempty"`
}

// LockTable maps a scope-relative resource path to the user holding it.
type LockTable map[string]string

// Status looks up a path in the table. Absence means unlocked.
func (t LockTable) Status(path string) LockStatus {
	holder, ok := t[path]
	if !ok || holder == "" {
		return LockStatus{}
	}
	return LockStatus{Locked: true, Holder: holder}
}

// Clone returns an independent copy. A nil table clones to nil.
func (t LockTable) Clone() LockTable {
	if t == nil {
		return nil
	}
	out := make(LockTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// HeldBy returns the paths held by user, sorted.
func (t LockTable) HeldBy(user string) []string {
	var paths []string
	for p, h := range t {
		if h == user {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Entries returns the table as entries sorted by path.
func (t LockTable) Entries() []LockEntry {
	entries := make([]LockEntry, 0, len(t))
	for p, h := range t {
		entries = append(entries, LockEntry{ResourcePath: p, Holder: h})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ResourcePath < entries[j].ResourcePath
	})
	return entries
}

// LockStatus is the derived per-resource view of a lock table.
type LockStatus struct {
	Locked bool   `json:"Locked"`
	Holder string `json:"User"`
}

// LockState is the three-valued classification of a status query from the
// point of view of one user. StateUnknown is never treated as free.
type LockState string

const (
	StateUnknown     LockState = "unknown"
	StateFree        LockState = "free"
	StateHeldByMe    LockState = "held_by_me"
	StateHeldByOther LockState = "held_by_other"
)

// Classify turns a status query outcome into a LockState. A non-nil queryErr
// always yields StateUnknown.
func Classify(status LockStatus, user string, queryErr error) LockState {
	if queryErr != nil {
		return StateUnknown
	}
	if !status.Locked {
		return StateFree
	}
	if status.Holder == user {
		return StateHeldByMe
	}
	return StateHeldByOther
}

// LockAction is a mutation recorded in the lock history.
type LockAction string

const (
	ActionLock        LockAction = "lock"
	ActionUnlock      LockAction = "unlock"
	ActionForceUnlock LockAction = "force_unlock"
)

// IsValidAction checks if an action is one of the recorded kinds
func IsValidAction(a LockAction) bool {
	switch a {
	case ActionLock, ActionUnlock, ActionForceUnlock:
		return true
	}
	return false
}

// LockEvent is one entry in the lock history of a scope.
type LockEvent struct {
	ID           int64      `json:"id"`
	Scope        Scope      `json:"scope"`
	ResourcePath string     `json:"file_path"`
	UserName     string     `json:"user_name"`
	Action       LockAction `json:"action"`
	CreatedAt    time.Time  `json:"created_at"`
}

// LockOutcome is the store's decision on a lock or unlock request.
type LockOutcome string

const (
	OutcomeLocked        LockOutcome = "locked"
	OutcomeAlreadyLocked LockOutcome = "already_locked"
	OutcomeUnlocked      LockOutcome = "unlocked"
	OutcomeNotLocked     LockOutcome = "not_locked"
	OutcomeRejected      LockOutcome = "rejected"
)

// Accepted reports whether the outcome leaves the caller's intent satisfied.
func (o LockOutcome) Accepted() bool {
	switch o {
	case OutcomeLocked, OutcomeAlreadyLocked, OutcomeUnlocked, OutcomeNotLocked:
		return true
	}
	return false
}
