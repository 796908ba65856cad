// Package materialize turns recurrence series into concrete task rows. It is
// the single write path for occurrence creation, shared by the background
// worker and the periodic sweep, and is idempotent: re-running it over a
// fully materialized window creates nothing.
package materialize

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"tymr/domain"
	"tymr/recurrence"
	"tymr/storage"
)

// Config bounds how far ahead a series is materialized.
type Config struct {
	// Window is how far past the current time occurrence dates are
	// generated. Bounding by the clock rather than the anchor keeps the
	// periodic sweep from pushing the horizon further out on every pass.
	Window time.Duration
	// MaxOccurrences caps the dates taken from one expansion.
	MaxOccurrences int
	// PendingCeiling skips materialization entirely while a series already
	// has at least this many future occurrences, keeping boards from
	// flooding when rules and sweeps overlap.
	PendingCeiling int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// DefaultConfig mirrors the planner's 20-day lookahead.
func DefaultConfig() Config {
	return Config{
		Window:         20 * 24 * time.Hour,
		MaxOccurrences: 20,
		PendingCeiling: 10,
	}
}

// Result reports what one materialization pass did. Err carries a rule parse
// failure; the pass itself still succeeds so a corrupted rule cannot take
// down a worker or a sweep.
type Result struct {
	Created        []domain.Task
	AlreadyExisted []string
	Err            error
}

type seriesStore interface {
	GetSeries(ctx context.Context, id string) (*domain.RecurrenceSeries, error)
	CountFutureOccurrences(ctx context.Context, seriesID string, after time.Time) (int, error)
	CreateOccurrence(ctx context.Context, template domain.Task, date time.Time) (domain.Task, bool, error)
}

// Materializer expands a series anchor into stored occurrences.
type Materializer struct {
	store seriesStore
	cfg   Config
}

func New(store seriesStore, cfg Config) *Materializer {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = DefaultConfig().MaxOccurrences
	}
	if cfg.PendingCeiling <= 0 {
		cfg.PendingCeiling = DefaultConfig().PendingCeiling
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Materializer{store: store, cfg: cfg}
}

// MaterializeFrom generates occurrences of anchor's series inside the
// configured window, starting strictly after the anchor. Each date is an
// independent upsert, so a crash mid-pass leaves a partial window that the
// next pass completes.
func (m *Materializer) MaterializeFrom(ctx context.Context, anchor domain.Task) (Result, error) {
	res := Result{Created: []domain.Task{}, AlreadyExisted: []string{}}
	if !anchor.IsOccurrence() {
		return res, nil
	}
	series, err := m.store.GetSeries(ctx, *anchor.SeriesID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.WithFields(log.Fields{"task_id": anchor.ID, "series_id": *anchor.SeriesID}).
				Warn("anchor references a missing series, skipping")
			return res, nil
		}
		return res, err
	}
	if series.Rule == "" {
		return res, nil
	}
	anchorTime, ok := anchor.AnchorTime()
	if !ok {
		log.WithField("task_id", anchor.ID).Warn("undated anchor cannot seed materialization")
		return res, nil
	}

	horizon := m.cfg.Now().UTC().Add(m.cfg.Window)
	if !anchorTime.Before(horizon) {
		// The anchor already sits at or past the horizon; the window is full.
		return res, nil
	}

	pendingFrom := anchorTime
	if now := m.cfg.Now().UTC(); now.After(pendingFrom) {
		pendingFrom = now
	}
	pending, err := m.store.CountFutureOccurrences(ctx, series.ID, domain.DateOf(pendingFrom))
	if err != nil {
		return res, err
	}
	if pending >= m.cfg.PendingCeiling {
		log.WithFields(log.Fields{"series_id": series.ID, "pending": pending}).
			Debug("pending ceiling reached, nothing to materialize")
		return res, nil
	}

	dates, err := recurrence.Expand(series.Rule, anchorTime, horizon, m.cfg.MaxOccurrences)
	if err != nil {
		res.Err = err
		return res, nil
	}

	for _, d := range dates {
		occ, created, err := m.store.CreateOccurrence(ctx, anchor, d)
		if err != nil {
			return res, err
		}
		if created {
			res.Created = append(res.Created, occ)
		} else {
			res.AlreadyExisted = append(res.AlreadyExisted, occ.ID)
		}
		if pending+len(res.Created) >= m.cfg.PendingCeiling {
			break
		}
	}
	return res, nil
}
