// Package propagate applies scoped edits to recurring tasks. The scope names
// the blast radius: single touches one occurrence, future additionally
// rebuilds the forward window through the regeneration queue, all also
// rewrites past siblings in place.
package propagate

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"tymr/domain"
	"tymr/recurrence"
)

// TaskChanges is a partial update: nil fields are untouched. Rule is the
// recurrence rule attached to the task's series; setting it on a task with
// no series starts one.
type TaskChanges struct {
	Title       *string
	Description *string
	Status      *domain.Status
	IsCompleted *bool
	Order       *int
	DurationMin *int
	ColumnDate  *time.Time
	StartAt     *time.Time
	EndAt       *time.Time
	Tags        []string
	ProjectID   *string
	Rule        *string
}

type editStore interface {
	GetTask(ctx context.Context, id, userID string) (*domain.Task, error)
	UpdateTask(ctx context.Context, t *domain.Task) error
	UpdateTasks(ctx context.Context, tasks []domain.Task) error
	DeleteMany(ctx context.Context, ids []string) (int, error)
	FutureSiblings(ctx context.Context, t domain.Task) ([]domain.Task, error)
	PastSiblings(ctx context.Context, t domain.Task) ([]domain.Task, error)
	CreateSeries(ctx context.Context, rule string) (domain.RecurrenceSeries, error)
	GetSeries(ctx context.Context, id string) (*domain.RecurrenceSeries, error)
	SetSeriesRule(ctx context.Context, id, rule string) error
	DeleteSeriesIfUnreferenced(ctx context.Context, id string) (bool, error)
}

type jobQueue interface {
	Enqueue(ctx context.Context, job domain.RegenJob) error
}

type publisher interface {
	Publish(ctx context.Context, userID string, msg domain.Message)
}

// Propagator turns a scoped edit into the matching set of writes and the
// regeneration job that rebuilds the forward window.
type Propagator struct {
	store editStore
	queue jobQueue
	pub   publisher
}

func New(store editStore, queue jobQueue, pub publisher) *Propagator {
	return &Propagator{store: store, queue: queue, pub: pub}
}

// ApplyEdit applies changes to the task under the given scope and returns the
// updated row. The direct edit commits synchronously in one statement; wider
// scopes do their forward work asynchronously so a queue outage can delay
// regeneration but never lose the edit itself.
func (p *Propagator) ApplyEdit(ctx context.Context, userID, taskID string, changes TaskChanges, scope domain.EditScope) (*domain.Task, error) {
	task, err := p.store.GetTask(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}

	if changes.Rule != nil && *changes.Rule != "" {
		if err := recurrence.Validate(*changes.Rule); err != nil {
			return nil, err
		}
		if err := p.attachRule(ctx, task, *changes.Rule); err != nil {
			return nil, err
		}
	}

	apply(task, changes)
	task.NormalizeSpan()
	if err := p.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	if !task.IsOccurrence() {
		// Nothing to propagate to; any wider scope degrades to single.
		return task, nil
	}
	if scope == domain.ScopeAll {
		if err := p.rewritePastSiblings(ctx, task, changes); err != nil {
			return nil, err
		}
	}
	if scope == domain.ScopeFuture || scope == domain.ScopeAll {
		p.enqueueRegen(ctx, task)
	}
	return task, nil
}

// TurnOffRepeat detaches a task from its series and prunes the future
// siblings the series had materialized. Past siblings keep their rows but
// the series itself is removed once nothing references it. Returns the
// detached task and the IDs of the pruned siblings.
func (p *Propagator) TurnOffRepeat(ctx context.Context, userID, taskID string) (*domain.Task, []string, error) {
	task, err := p.store.GetTask(ctx, taskID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !task.IsOccurrence() {
		return task, nil, nil
	}
	seriesID := *task.SeriesID

	future, err := p.store.FutureSiblings(ctx, *task)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(future))
	for _, sib := range future {
		ids = append(ids, sib.ID)
	}
	if _, err := p.store.DeleteMany(ctx, ids); err != nil {
		return nil, nil, err
	}

	task.SeriesID = nil
	if err := p.store.UpdateTask(ctx, task); err != nil {
		return nil, nil, err
	}
	// Past siblings still reference the series; it only goes away once the
	// last of them is detached or deleted.
	if _, err := p.store.DeleteSeriesIfUnreferenced(ctx, seriesID); err != nil {
		return nil, nil, err
	}

	if len(ids) > 0 && p.pub != nil {
		p.pub.Publish(ctx, userID, domain.RecRefresh(ids, nil))
	}
	return task, ids, nil
}

// attachRule starts a series for a bare task or swaps the rule on an
// existing one. An unchanged rule is a no-op.
func (p *Propagator) attachRule(ctx context.Context, task *domain.Task, rule string) error {
	if !task.IsOccurrence() {
		series, err := p.store.CreateSeries(ctx, rule)
		if err != nil {
			return err
		}
		task.SeriesID = &series.ID
		return nil
	}
	current, err := p.store.GetSeries(ctx, *task.SeriesID)
	if err != nil {
		return err
	}
	if current.Rule == rule {
		return nil
	}
	return p.store.SetSeriesRule(ctx, *task.SeriesID, rule)
}

// rewritePastSiblings copies the shared fields of the edited occurrence onto
// every earlier sibling. Each sibling keeps its own date; only the
// time-of-day moves with the edit.
func (p *Propagator) rewritePastSiblings(ctx context.Context, task *domain.Task, changes TaskChanges) error {
	past, err := p.store.PastSiblings(ctx, *task)
	if err != nil {
		return err
	}
	if len(past) == 0 {
		return nil
	}
	for i := range past {
		sib := &past[i]
		sib.Title = task.Title
		sib.Description = task.Description
		sib.DurationMin = task.DurationMin
		sib.Tags = task.Tags
		sib.ProjectID = task.ProjectID
		if changes.StartAt != nil {
			shiftTimeOfDay(sib, task)
		}
		sib.NormalizeSpan()
	}
	if err := p.store.UpdateTasks(ctx, past); err != nil {
		return err
	}
	if p.pub != nil {
		p.pub.Publish(ctx, task.UserID, domain.RecRefresh(nil, past))
	}
	return nil
}

// shiftTimeOfDay gives sib the source's start and end clock times on the
// sibling's own date.
func shiftTimeOfDay(sib, src *domain.Task) {
	if src.StartAt == nil {
		return
	}
	date, ok := sib.AnchorTime()
	if !ok {
		return
	}
	day := domain.DateOf(date)
	start := day.Add(clockOf(*src.StartAt))
	sib.StartAt = &start
	if src.EndAt != nil {
		end := start.Add(src.EndAt.Sub(*src.StartAt))
		sib.EndAt = &end
	}
}

func clockOf(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// enqueueRegen hands the forward rebuild to the worker. Failure is logged,
// not returned: the edit has already committed and the periodic sweep
// regenerates any window this job would have covered.
func (p *Propagator) enqueueRegen(ctx context.Context, task *domain.Task) {
	if p.queue == nil {
		return
	}
	job := domain.RegenJob{OccurrenceID: task.ID, UserID: task.UserID}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		log.WithFields(log.Fields{"task_id": task.ID, "user_id": task.UserID}).
			Errorf("regeneration enqueue failed, sweep will cover: %v", err)
	}
}

func apply(t *domain.Task, c TaskChanges) {
	if c.Title != nil {
		t.Title = *c.Title
	}
	if c.Description != nil {
		t.Description = *c.Description
	}
	if c.Status != nil {
		t.Status = *c.Status
	}
	if c.IsCompleted != nil {
		t.IsCompleted = *c.IsCompleted
	}
	if c.Order != nil {
		t.Order = *c.Order
	}
	if c.DurationMin != nil {
		t.DurationMin = c.DurationMin
	}
	if c.ColumnDate != nil {
		d := domain.DateOf(*c.ColumnDate)
		t.ColumnDate = &d
	}
	if c.StartAt != nil {
		t.StartAt = c.StartAt
	}
	if c.EndAt != nil {
		t.EndAt = c.EndAt
	}
	if c.Tags != nil {
		t.Tags = c.Tags
	}
	if c.ProjectID != nil {
		if *c.ProjectID == "" {
			t.ProjectID = nil
		} else {
			t.ProjectID = c.ProjectID
		}
	}
}
