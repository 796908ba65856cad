// Package sweep runs the scheduled board hygiene passes: archiving stale
// tasks, demoting abandoned ones back to the backlog, and rolling
// yesterday's unfinished work forward to today in each user's timezone.
package sweep

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"tymr/domain"
	"tymr/storage"
)

type sweepStore interface {
	ArchiveStale(ctx context.Context, cutoff time.Time) (int64, error)
	DemoteStale(ctx context.Context, cutoff time.Time) (int64, error)
	RollForwardCandidates(ctx context.Context, userID string, date time.Time) ([]domain.Task, error)
	ListUserTimezones(ctx context.Context) ([]storage.UserSetting, error)
	UpdateTask(ctx context.Context, t *domain.Task) error
}

type publisher interface {
	Publish(ctx context.Context, userID string, msg domain.Message)
}

// Sweeper owns the time-based maintenance passes. Pub is optional.
type Sweeper struct {
	Store        sweepStore
	Pub          publisher
	ArchiveAfter time.Duration
	DemoteAfter  time.Duration
}

func New(store sweepStore, pub publisher) *Sweeper {
	return &Sweeper{
		Store:        store,
		Pub:          pub,
		ArchiveAfter: 30 * 24 * time.Hour,
		DemoteAfter:  15 * 24 * time.Hour,
	}
}

// RunPeriodicSweeps archives and demotes in one pass. Counts are logged so
// an operator can see churn per run.
func (s *Sweeper) RunPeriodicSweeps(ctx context.Context, now time.Time) error {
	archived, err := s.Store.ArchiveStale(ctx, now.Add(-s.ArchiveAfter))
	if err != nil {
		return err
	}
	demoted, err := s.Store.DemoteStale(ctx, now.Add(-s.DemoteAfter))
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"archived": archived, "demoted": demoted}).Info("periodic sweep done")
	return nil
}

// RollForward moves every user's unfinished board and calendar tasks from
// their local yesterday onto their local today, preserving each task's
// time of day. Affected users get a full refresh, since the shifted set can
// be large and the diff is the whole column.
func (s *Sweeper) RollForward(ctx context.Context, now time.Time) error {
	settings, err := s.Store.ListUserTimezones(ctx)
	if err != nil {
		return err
	}
	for _, us := range settings {
		loc, err := time.LoadLocation(us.Timezone)
		if err != nil {
			log.WithFields(log.Fields{"user_id": us.UserID, "timezone": us.Timezone}).
				Warn("unknown timezone, using UTC")
			loc = time.UTC
		}
		today := domain.DateOf(now.In(loc))
		yesterday := today.AddDate(0, 0, -1)

		moved, err := s.rollForwardUser(ctx, us.UserID, yesterday, today)
		if err != nil {
			return err
		}
		if moved > 0 {
			log.WithFields(log.Fields{"user_id": us.UserID, "moved": moved}).Info("rolled tasks forward")
			if s.Pub != nil {
				s.Pub.Publish(ctx, us.UserID, domain.FullRefresh())
			}
		}
	}
	return nil
}

func (s *Sweeper) rollForwardUser(ctx context.Context, userID string, yesterday, today time.Time) (int, error) {
	candidates, err := s.Store.RollForwardCandidates(ctx, userID, yesterday)
	if err != nil {
		return 0, err
	}
	for i := range candidates {
		t := &candidates[i]
		shiftToDate(t, today)
		if err := s.Store.UpdateTask(ctx, t); err != nil {
			return 0, err
		}
	}
	return len(candidates), nil
}

// shiftToDate moves a task's column date and its start and end times onto
// date, keeping the clock times intact.
func shiftToDate(t *domain.Task, date time.Time) {
	d := domain.DateOf(date)
	t.ColumnDate = &d
	if t.StartAt != nil {
		start := onDate(*t.StartAt, d)
		var span time.Duration
		if t.EndAt != nil {
			span = t.EndAt.Sub(*t.StartAt)
		}
		t.StartAt = &start
		if t.EndAt != nil {
			end := start.Add(span)
			t.EndAt = &end
		}
	}
	t.NormalizeSpan()
}

func onDate(clock, date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, clock.Location())
}
