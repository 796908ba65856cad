package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"tymr/domain"
)

// CreateSeries inserts a new recurrence series for the given rule.
func (s *Store) CreateSeries(ctx context.Context, rule string) (domain.RecurrenceSeries, error) {
	series := domain.RecurrenceSeries{ID: uuid.NewString(), Rule: rule}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recurrence_series (id, rule) VALUES (?, ?)`, series.ID, series.Rule)
	return series, err
}

// GetSeries loads one series by ID.
func (s *Store) GetSeries(ctx context.Context, id string) (*domain.RecurrenceSeries, error) {
	var series domain.RecurrenceSeries
	err := s.db.QueryRowContext(ctx,
		`SELECT id, rule FROM recurrence_series WHERE id = ?`, id).Scan(&series.ID, &series.Rule)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &series, nil
}

// SetSeriesRule replaces the rule of an existing series.
func (s *Store) SetSeriesRule(ctx context.Context, id, rule string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recurrence_series SET rule = ? WHERE id = ?`, rule, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSeries returns every series; the self-healing regeneration sweep walks
// this.
func (s *Store) ListSeries(ctx context.Context) ([]domain.RecurrenceSeries, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, rule FROM recurrence_series ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.RecurrenceSeries{}
	for rows.Next() {
		var series domain.RecurrenceSeries
		if err := rows.Scan(&series.ID, &series.Rule); err != nil {
			return nil, err
		}
		out = append(out, series)
	}
	return out, rows.Err()
}

// DeleteSeriesIfUnreferenced removes a series only when no task references
// it anymore (cascade-safe: occurrences detach, they don't vanish). Reports
// whether the row was deleted.
func (s *Store) DeleteSeriesIfUnreferenced(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recurrence_series
		 WHERE id = ? AND NOT EXISTS (SELECT 1 FROM tasks WHERE series_id = ?)`, id, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
