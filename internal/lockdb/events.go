package lockdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/assetlock/internal/models"
)

const defaultHistoryLimit = 50

func recordEvent(tx *sql.Tx, s models.Scope, path, user string, action models.LockAction, at string) error {
	_, err := tx.Exec(
		`INSERT INTO lock_events (origin, branch, file_path, user_name, action, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.Origin, s.Branch, path, user, string(action), at,
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", action, err)
	}
	return nil
}

// History returns the newest events for a scope, optionally narrowed to one
// path. limit <= 0 uses a default of 50.
func (db *LockDB) History(s models.Scope, path string, limit int) ([]models.LockEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	query := `SELECT id, origin, branch, file_path, user_name, action, created_at
		FROM lock_events WHERE origin = ? AND branch = ?`
	args := []any{s.Origin, s.Branch}
	if path != "" {
		query += ` AND file_path = ?`
		args = append(args, path)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var events []models.LockEvent
	for rows.Next() {
		var e models.LockEvent
		var action, createdAt string
		if err := rows.Scan(&e.ID, &e.Scope.Origin, &e.Scope.Branch, &e.ResourcePath, &e.UserName, &action, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Action = models.LockAction(action)
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// CleanupEvents deletes events older than the given duration.
// Returns the number of rows deleted.
func (db *LockDB) CleanupEvents(olderThan time.Duration) (int64, error) {
	cutoff := db.now().UTC().Add(-olderThan).Format(timeFormat)
	res, err := db.conn.Exec(`DELETE FROM lock_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup lock events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
