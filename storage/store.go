// Package storage is the persistence facade over tasks, recurrence series
// and user settings, plus the durable regeneration queue client and the
// per-user task-list cache.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"tymr/domain"
)

// ErrNotFound is returned when a task or series does not exist or does not
// belong to the requesting owner.
var ErrNotFound = errors.New("storage: not found")

// Store provides access to the underlying sqlite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and ensures the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps writers serialized; sqlite would otherwise
	// surface SQLITE_BUSY under the pool's concurrent connections.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

const taskColumns = `id, user_id, title, description, status, is_completed, ord, duration_min,
	column_date, start_at, end_at, series_id, project_id, tags, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var (
		t           domain.Task
		isCompleted int
		duration    sql.NullInt64
		columnDate  sql.NullString
		startAt     sql.NullString
		endAt       sql.NullString
		seriesID    sql.NullString
		projectID   sql.NullString
		tags        string
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status, &isCompleted,
		&t.Order, &duration, &columnDate, &startAt, &endAt, &seriesID, &projectID,
		&tags, &createdAt, &updatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	t.IsCompleted = isCompleted != 0
	if duration.Valid {
		d := int(duration.Int64)
		t.DurationMin = &d
	}
	if columnDate.Valid {
		if d, perr := time.ParseInLocation(domain.DateLayout, columnDate.String, time.UTC); perr == nil {
			t.ColumnDate = &d
		}
	}
	if startAt.Valid {
		if ts, perr := time.Parse(time.RFC3339Nano, startAt.String); perr == nil {
			t.StartAt = &ts
		}
	}
	if endAt.Valid {
		if ts, perr := time.Parse(time.RFC3339Nano, endAt.String); perr == nil {
			t.EndAt = &ts
		}
	}
	if seriesID.Valid {
		v := seriesID.String
		t.SeriesID = &v
	}
	if projectID.Valid {
		v := projectID.String
		t.ProjectID = &v
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		t.Tags = nil
	}
	if ts, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		t.CreatedAt = ts
	}
	if ts, perr := time.Parse(time.RFC3339Nano, updatedAt); perr == nil {
		t.UpdatedAt = ts
	}
	return t, nil
}

func taskArgs(t *domain.Task) []any {
	var (
		duration   any
		columnDate any
		startAt    any
		endAt      any
		seriesID   any
		projectID  any
	)
	if t.DurationMin != nil {
		duration = *t.DurationMin
	}
	if t.ColumnDate != nil {
		columnDate = t.ColumnDate.Format(domain.DateLayout)
	}
	if t.StartAt != nil {
		startAt = t.StartAt.UTC().Format(time.RFC3339Nano)
	}
	if t.EndAt != nil {
		endAt = t.EndAt.UTC().Format(time.RFC3339Nano)
	}
	if t.SeriesID != nil {
		seriesID = *t.SeriesID
	}
	if t.ProjectID != nil {
		projectID = *t.ProjectID
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, _ := json.Marshal(tags)
	return []any{
		t.ID, t.UserID, t.Title, t.Description, string(t.Status), boolToInt(t.IsCompleted),
		t.Order, duration, columnDate, startAt, endAt, seriesID, projectID,
		string(encoded), t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// anchorDate is the date key siblings compare on: the day-column when set,
// otherwise the calendar start's date.
func anchorDate(t *domain.Task) (string, bool) {
	if t.ColumnDate != nil {
		return t.ColumnDate.Format(domain.DateLayout), true
	}
	if t.StartAt != nil {
		return t.StartAt.UTC().Format(domain.DateLayout), true
	}
	return "", false
}
