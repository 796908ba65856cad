package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tymr/domain"
)

// FindByDateAndSeries returns the occurrence of a series on a given date, or
// nil when the slot is empty.
func (s *Store) FindByDateAndSeries(ctx context.Context, seriesID string, date time.Time) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE series_id = ? AND column_date = ?`,
		seriesID, date.Format(domain.DateLayout))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateOccurrence materializes one occurrence of the template's series on
// date, copying the template's shared fields. It is safe to call
// concurrently for the same (series, date): the insert is absorbed by the
// unique slot index and the racing caller gets the existing row back.
// The boolean reports whether this call created the row.
func (s *Store) CreateOccurrence(ctx context.Context, template domain.Task, date time.Time) (domain.Task, bool, error) {
	if template.SeriesID == nil {
		return domain.Task{}, false, fmt.Errorf("storage: template %s has no series", template.ID)
	}
	occ := template
	occ.ID = uuid.NewString()
	occ.IsCompleted = false
	day := domain.DateOf(date)
	occ.ColumnDate = &day
	start := date
	occ.StartAt = &start
	end := start.Add(template.SpanDuration())
	occ.EndAt = &end
	now := time.Now().UTC()
	occ.CreatedAt = now
	occ.UpdatedAt = now

	// INSERT OR IGNORE lands on idx_tasks_series_slot for a taken slot,
	// turning the duplicate into a no-op instead of an error.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tasks (`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		taskArgs(&occ)...)
	if err != nil {
		return domain.Task{}, false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return occ, true, nil
	}
	existing, err := s.FindByDateAndSeries(ctx, *template.SeriesID, day)
	if err != nil {
		return domain.Task{}, false, err
	}
	if existing == nil {
		return domain.Task{}, false, fmt.Errorf("storage: occurrence upsert for series %s on %s lost both ways", *template.SeriesID, day.Format(domain.DateLayout))
	}
	return *existing, false, nil
}

// FutureSiblings returns the occurrences of t's series dated strictly after
// t, ascending.
func (s *Store) FutureSiblings(ctx context.Context, t domain.Task) ([]domain.Task, error) {
	return s.siblings(ctx, t, ">", "ASC")
}

// PastSiblings returns the occurrences of t's series dated strictly before
// t, ascending.
func (s *Store) PastSiblings(ctx context.Context, t domain.Task) ([]domain.Task, error) {
	return s.siblings(ctx, t, "<", "ASC")
}

func (s *Store) siblings(ctx context.Context, t domain.Task, cmp, dir string) ([]domain.Task, error) {
	if t.SeriesID == nil {
		return []domain.Task{}, nil
	}
	date, ok := anchorDate(&t)
	if !ok {
		return []domain.Task{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE series_id = ? AND id != ? AND column_date `+cmp+` ?
		 ORDER BY column_date `+dir,
		*t.SeriesID, t.ID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// LatestOfSeries returns the series occurrence with the greatest date, or
// nil for a series with no dated occurrences.
func (s *Store) LatestOfSeries(ctx context.Context, seriesID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE series_id = ? AND column_date IS NOT NULL
		 ORDER BY column_date DESC LIMIT 1`, seriesID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CountFutureOccurrences counts series occurrences dated strictly after the
// given date. The materializer's safety ceiling reads this before creating
// anything.
func (s *Store) CountFutureOccurrences(ctx context.Context, seriesID string, after time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE series_id = ? AND column_date > ?`,
		seriesID, after.Format(domain.DateLayout)).Scan(&n)
	return n, err
}
