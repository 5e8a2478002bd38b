package lockdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/assetlock/internal/models"
)

// Decision is the store's answer to a lock or unlock request.
type Decision struct {
	Outcome models.LockOutcome
	Holder  string // current holder after the request; empty when unlocked
}

// ScopedLock is a lock row with its scope, used by admin listings.
type ScopedLock struct {
	Scope models.Scope `json:"scope"`
	models.LockEntry
}

func validate(s models.Scope, path, user string, needUser bool) error {
	if s.Origin == "" || s.Branch == "" {
		return fmt.Errorf("scope requires origin and branch")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("file path is required")
	}
	if needUser && strings.TrimSpace(user) == "" {
		return fmt.Errorf("user name is required")
	}
	return nil
}

// Acquire locks path for user. First writer wins: an existing row is never
// overwritten, and the caller learns the current holder.
func (db *LockDB) Acquire(s models.Scope, path, user string) (Decision, error) {
	if err := validate(s, path, user, true); err != nil {
		return Decision{}, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Decision{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := db.timestamp()
	res, err := tx.Exec(
		`INSERT INTO locks (origin, branch, file_path, holder, locked_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(origin, branch, file_path) DO NOTHING`,
		s.Origin, s.Branch, path, user, now,
	)
	if err != nil {
		return Decision{}, fmt.Errorf("insert lock: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		if err := recordEvent(tx, s, path, user, models.ActionLock, now); err != nil {
			return Decision{}, err
		}
		if err := tx.Commit(); err != nil {
			return Decision{}, fmt.Errorf("commit: %w", err)
		}
		return Decision{Outcome: models.OutcomeLocked, Holder: user}, nil
	}

	var holder string
	err = tx.QueryRow(
		`SELECT holder FROM locks WHERE origin = ? AND branch = ? AND file_path = ?`,
		s.Origin, s.Branch, path,
	).Scan(&holder)
	if err != nil {
		return Decision{}, fmt.Errorf("read holder: %w", err)
	}
	if holder == user {
		return Decision{Outcome: models.OutcomeAlreadyLocked, Holder: holder}, nil
	}
	return Decision{Outcome: models.OutcomeRejected, Holder: holder}, nil
}

// Release unlocks path if user holds it. Releasing an unlocked path succeeds;
// releasing another user's lock is rejected and changes nothing.
func (db *LockDB) Release(s models.Scope, path, user string) (Decision, error) {
	if err := validate(s, path, user, true); err != nil {
		return Decision{}, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Decision{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var holder string
	err = tx.QueryRow(
		`SELECT holder FROM locks WHERE origin = ? AND branch = ? AND file_path = ?`,
		s.Origin, s.Branch, path,
	).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return Decision{Outcome: models.OutcomeNotLocked}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("read holder: %w", err)
	}
	if holder != user {
		return Decision{Outcome: models.OutcomeRejected, Holder: holder}, nil
	}

	if _, err := tx.Exec(
		`DELETE FROM locks WHERE origin = ? AND branch = ? AND file_path = ? AND holder = ?`,
		s.Origin, s.Branch, path, user,
	); err != nil {
		return Decision{}, fmt.Errorf("delete lock: %w", err)
	}
	if err := recordEvent(tx, s, path, user, models.ActionUnlock, db.timestamp()); err != nil {
		return Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return Decision{}, fmt.Errorf("commit: %w", err)
	}
	return Decision{Outcome: models.OutcomeUnlocked}, nil
}

// ForceRelease removes the lock on path regardless of holder and returns the
// previous holder. The event is attributed to actor.
func (db *LockDB) ForceRelease(s models.Scope, path, actor string) (string, error) {
	if err := validate(s, path, "", false); err != nil {
		return "", err
	}
	if actor == "" {
		actor = "admin"
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var holder string
	err = tx.QueryRow(
		`DELETE FROM locks WHERE origin = ? AND branch = ? AND file_path = ? RETURNING holder`,
		s.Origin, s.Branch, path,
	).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("force release: %w", err)
	}
	if err := recordEvent(tx, s, path, actor, models.ActionForceUnlock, db.timestamp()); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return holder, nil
}

// GetLock returns the lock on path, or ErrNotFound.
func (db *LockDB) GetLock(s models.Scope, path string) (*models.LockEntry, error) {
	var e models.LockEntry
	var lockedAt string
	err := db.conn.QueryRow(
		`SELECT file_path, holder, locked_at FROM locks WHERE origin = ? AND branch = ? AND file_path = ?`,
		s.Origin, s.Branch, path,
	).Scan(&e.ResourcePath, &e.Holder, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	e.LockedAt = parseTime(lockedAt)
	return &e, nil
}

// Status returns the derived status of path within s.
func (db *LockDB) Status(s models.Scope, path string) (models.LockStatus, error) {
	e, err := db.GetLock(s, path)
	if errors.Is(err, ErrNotFound) {
		return models.LockStatus{}, nil
	}
	if err != nil {
		return models.LockStatus{}, err
	}
	return models.LockStatus{Locked: true, Holder: e.Holder}, nil
}

// ListLocks returns the complete lock table for s. The result is never nil.
func (db *LockDB) ListLocks(s models.Scope) (models.LockTable, error) {
	rows, err := db.conn.Query(
		`SELECT file_path, holder FROM locks WHERE origin = ? AND branch = ?`,
		s.Origin, s.Branch,
	)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	table := models.LockTable{}
	for rows.Next() {
		var path, holder string
		if err := rows.Scan(&path, &holder); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		table[path] = holder
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	return table, nil
}

// ListAllLocks returns every lock across scopes, optionally filtered by holder,
// ordered by scope then path.
func (db *LockDB) ListAllLocks(holder string) ([]ScopedLock, error) {
	query := `SELECT origin, branch, file_path, holder, locked_at FROM locks`
	var args []any
	if holder != "" {
		query += ` WHERE holder = ?`
		args = append(args, holder)
	}
	query += ` ORDER BY origin, branch, file_path`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list all locks: %w", err)
	}
	defer rows.Close()

	var out []ScopedLock
	for rows.Next() {
		var l ScopedLock
		var lockedAt string
		if err := rows.Scan(&l.Scope.Origin, &l.Scope.Branch, &l.ResourcePath, &l.Holder, &lockedAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		l.LockedAt = parseTime(lockedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// CountLocks returns the number of held locks across all scopes.
func (db *LockDB) CountLocks() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM locks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count locks: %w", err)
	}
	return n, nil
}
