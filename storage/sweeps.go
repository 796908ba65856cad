package storage

import (
	"context"
	"time"

	"tymr/domain"
)

// The sweep queries below exclude tasks with a live series link: the
// regeneration worker supersedes sweeping for those.

// ArchiveStale marks tasks untouched since cutoff as ARCHIVED and returns
// how many rows changed.
func (s *Store) ArchiveStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ?
		 WHERE updated_at < ? AND status != ? AND series_id IS NULL`,
		string(domain.StatusArchived),
		time.Now().UTC().Format(time.RFC3339Nano),
		cutoff.UTC().Format(time.RFC3339Nano),
		string(domain.StatusArchived))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DemoteStale moves incomplete, non-archived tasks untouched since cutoff
// back to the backlog.
func (s *Store) DemoteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, column_date = NULL, updated_at = ?
		 WHERE updated_at < ? AND is_completed = 0
		   AND status NOT IN (?, ?) AND series_id IS NULL`,
		string(domain.StatusBacklog),
		time.Now().UTC().Format(time.RFC3339Nano),
		cutoff.UTC().Format(time.RFC3339Nano),
		string(domain.StatusArchived), string(domain.StatusBacklog))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RollForwardCandidates returns a user's incomplete, non-recurring board and
// calendar tasks sitting on the given date. The sweeper shifts them to today
// in the user's own timezone.
func (s *Store) RollForwardCandidates(ctx context.Context, userID string, date time.Time) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ? AND column_date = ? AND is_completed = 0
		   AND status IN (?, ?) AND series_id IS NULL
		 ORDER BY ord`,
		userID, date.Format(domain.DateLayout),
		string(domain.StatusOnBoard), string(domain.StatusOnCal))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}
