package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"tymr/domain"
)

// CreateTask inserts a new task, assigning an ID and timestamps when unset.
func (s *Store) CreateTask(ctx context.Context, t *domain.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		taskArgs(t)...)
	return err
}

// GetTask loads a task scoped to its owner. A task belonging to another user
// is ErrNotFound, never leaked.
func (s *Store) GetTask(ctx context.Context, id, userID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTaskByID loads a task without owner scoping. Background jobs use it;
// the request path always goes through GetTask.
func (s *Store) GetTaskByID(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask writes the full row back and bumps updated_at.
func (s *Store) UpdateTask(ctx context.Context, t *domain.Task) error {
	t.UpdatedAt = time.Now().UTC()
	args := taskArgs(t)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET user_id=?, title=?, description=?, status=?, is_completed=?, ord=?,
			duration_min=?, column_date=?, start_at=?, end_at=?, series_id=?, project_id=?,
			tags=?, created_at=?, updated_at=?
		 WHERE id=?`,
		append(args[1:], t.ID)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTasks writes several rows in one transaction. Used by the scope-all
// past-sibling copy so the bulk update is atomic.
func (s *Store) UpdateTasks(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range tasks {
		tasks[i].UpdatedAt = now
		args := taskArgs(&tasks[i])
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET user_id=?, title=?, description=?, status=?, is_completed=?, ord=?,
				duration_min=?, column_date=?, start_at=?, end_at=?, series_id=?, project_id=?,
				tags=?, created_at=?, updated_at=?
			 WHERE id=?`,
			append(args[1:], tasks[i].ID)...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// DeleteTask removes one task scoped to its owner.
func (s *Store) DeleteTask(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks returns every non-archived-or-not task of a user, column order
// first so the client can slot them without re-sorting.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ?
		 ORDER BY column_date IS NULL, column_date, ord, created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// SetTaskOrders assigns dense 1..n order keys to the given tasks, in the
// order provided. Tasks not owned by userID are skipped.
func (s *Store) SetTaskOrders(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for idx, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET ord = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
			idx+1, now, id, userID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// DeleteMany bulk-deletes tasks by ID and returns how many rows went away.
// Callers already hold the IDs, which become the deleted half of the client
// diff.
func (s *Store) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			deleted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
