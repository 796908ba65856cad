package api

import (
	"context"
	"fmt"
	"time"

	"tymr/domain"
	"tymr/propagate"
)

// taskPayload is the inbound shape of every task-mutating action. Optional
// fields stay nil when the client omitted them.
type taskPayload struct {
	ID          string   `json:"id"`
	IDs         []string `json:"ids"`
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Status      *string  `json:"status"`
	IsCompleted *bool    `json:"is_completed"`
	Order       *int     `json:"order"`
	Duration    *int     `json:"duration"`
	ColumnDate  *string  `json:"column_date"`
	StartAt     *string  `json:"start_at"`
	EndAt       *string  `json:"end_at"`
	Tags        []string `json:"tags"`
	ProjectID   *string  `json:"project_id"`
	Rule        *string  `json:"recurrence_rule"`
	Scope       string   `json:"scope"`
	Timezone    string   `json:"timezone"`
}

type svcStore interface {
	CreateTask(ctx context.Context, t *domain.Task) error
	GetTask(ctx context.Context, id, userID string) (*domain.Task, error)
	DeleteTask(ctx context.Context, id, userID string) error
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	SetTaskOrders(ctx context.Context, userID string, ids []string) error
	UpsertUserTimezone(ctx context.Context, userID, tz string) error
}

type editApplier interface {
	ApplyEdit(ctx context.Context, userID, taskID string, changes propagate.TaskChanges, scope domain.EditScope) (*domain.Task, error)
	TurnOffRepeat(ctx context.Context, userID, taskID string) (*domain.Task, []string, error)
}

type framePublisher interface {
	Publish(ctx context.Context, userID string, msg domain.Message)
}

type cacheEvictor interface {
	Evict(ctx context.Context, userID string)
}

// TaskService executes client actions against storage and broadcasts the
// resulting frames to every session of the user. Direct replies (the task
// list) go back through the gateway instead.
type TaskService struct {
	store svcStore
	prop  editApplier
	pub   framePublisher
	cache cacheEvictor
}

func NewTaskService(store svcStore, prop editApplier, pub framePublisher, cache cacheEvictor) *TaskService {
	return &TaskService{store: store, prop: prop, pub: pub, cache: cache}
}

// List returns the user's full task list as a tasks.list frame.
func (s *TaskService) List(ctx context.Context, userID string) (domain.Message, error) {
	tasks, err := s.store.ListTasks(ctx, userID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{Type: domain.MsgTasksList, Data: domain.SerializeAll(tasks)}, nil
}

// Create makes a new task. Untitled, unscheduled input lands in the
// braindump pool.
func (s *TaskService) Create(ctx context.Context, userID string, p taskPayload) error {
	task := domain.Task{
		UserID: userID,
		Status: domain.StatusBraindump,
		Tags:   p.Tags,
	}
	if p.Title != nil {
		task.Title = *p.Title
	}
	if p.Description != nil {
		task.Description = *p.Description
	}
	if p.Status != nil {
		st := domain.Status(*p.Status)
		if !domain.ValidStatus(st) {
			return fmt.Errorf("unknown status %q", *p.Status)
		}
		task.Status = st
	}
	task.DurationMin = p.Duration
	if p.ProjectID != nil && *p.ProjectID != "" {
		task.ProjectID = p.ProjectID
	}
	var err error
	if task.ColumnDate, err = parseDate(p.ColumnDate); err != nil {
		return err
	}
	if task.StartAt, err = parseTime(p.StartAt); err != nil {
		return err
	}
	if task.EndAt, err = parseTime(p.EndAt); err != nil {
		return err
	}
	task.NormalizeSpan()
	if err := s.store.CreateTask(ctx, &task); err != nil {
		return err
	}
	s.afterMutation(ctx, userID, domain.Message{Type: domain.MsgTaskCreated, Data: domain.Serialize(task)})

	// A rule on a brand-new task starts its series right away.
	if p.Rule != nil && *p.Rule != "" {
		_, err := s.prop.ApplyEdit(ctx, userID, task.ID, propagate.TaskChanges{Rule: p.Rule}, domain.ScopeFuture)
		return err
	}
	return nil
}

// Update applies a scoped edit and broadcasts the updated row.
func (s *TaskService) Update(ctx context.Context, userID string, p taskPayload) error {
	changes, err := changesFromPayload(p)
	if err != nil {
		return err
	}
	task, err := s.prop.ApplyEdit(ctx, userID, p.ID, changes, domain.ParseScope(p.Scope))
	if err != nil {
		return err
	}
	s.afterMutation(ctx, userID, domain.Message{Type: domain.MsgTaskUpdated, Data: domain.Serialize(*task)})
	return nil
}

// DroppedToCal schedules a task onto a calendar slot. The distinct frame
// type lets the client animate the calendar drop separately from plain
// updates.
func (s *TaskService) DroppedToCal(ctx context.Context, userID string, p taskPayload) error {
	start, err := parseTime(p.StartAt)
	if err != nil {
		return err
	}
	if start == nil {
		return fmt.Errorf("start_at is required")
	}
	changes, err := changesFromPayload(p)
	if err != nil {
		return err
	}
	st := domain.StatusOnCal
	changes.Status = &st
	cd := domain.DateOf(*start)
	changes.ColumnDate = &cd
	changes.StartAt = start
	task, err := s.prop.ApplyEdit(ctx, userID, p.ID, changes, domain.ParseScope(p.Scope))
	if err != nil {
		return err
	}
	s.afterMutation(ctx, userID, domain.Message{Type: domain.MsgCalTaskUpdated, Data: domain.Serialize(*task)})
	return nil
}

// ToggleCompletion flips the completion bit of one task.
func (s *TaskService) ToggleCompletion(ctx context.Context, userID string, p taskPayload) error {
	task, err := s.store.GetTask(ctx, p.ID, userID)
	if err != nil {
		return err
	}
	flipped := !task.IsCompleted
	updated, err := s.prop.ApplyEdit(ctx, userID, p.ID,
		propagate.TaskChanges{IsCompleted: &flipped}, domain.ScopeSingle)
	if err != nil {
		return err
	}
	s.afterMutation(ctx, userID, domain.Message{Type: domain.MsgTaskUpdated, Data: domain.Serialize(*updated)})
	return nil
}

// AssignProject sets or clears a task's project.
func (s *TaskService) AssignProject(ctx context.Context, userID string, p taskPayload) error {
	pid := ""
	if p.ProjectID != nil {
		pid = *p.ProjectID
	}
	updated, err := s.prop.ApplyEdit(ctx, userID, p.ID,
		propagate.TaskChanges{ProjectID: &pid}, domain.ScopeSingle)
	if err != nil {
		return err
	}
	s.afterMutation(ctx, userID, domain.Message{Type: domain.MsgTaskUpdated, Data: domain.Serialize(*updated)})
	return nil
}

// UpdateOrder reassigns dense order keys following the client's drag result.
func (s *TaskService) UpdateOrder(ctx context.Context, userID string, p taskPayload) error {
	if err := s.store.SetTaskOrders(ctx, userID, p.IDs); err != nil {
		return err
	}
	s.afterMutation(ctx, userID, domain.FullRefresh())
	return nil
}

// Delete removes one task and broadcasts its ID.
func (s *TaskService) Delete(ctx context.Context, userID string, p taskPayload) error {
	if err := s.store.DeleteTask(ctx, p.ID, userID); err != nil {
		return err
	}
	s.afterMutation(ctx, userID, domain.Message{Type: domain.MsgTaskDeleted, ID: p.ID})
	return nil
}

// TurnOffRepeat detaches a task from its series; the propagator broadcasts
// the pruned siblings itself.
func (s *TaskService) TurnOffRepeat(ctx context.Context, userID string, p taskPayload) error {
	task, _, err := s.prop.TurnOffRepeat(ctx, userID, p.ID)
	if err != nil {
		return err
	}
	s.afterMutation(ctx, userID, domain.Message{Type: domain.MsgTaskUpdated, Data: domain.Serialize(*task)})
	return nil
}

// SetTimezone records the zone the roll-forward sweep uses for this user.
func (s *TaskService) SetTimezone(ctx context.Context, userID string, p taskPayload) error {
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", p.Timezone)
		}
	}
	return s.store.UpsertUserTimezone(ctx, userID, p.Timezone)
}

func (s *TaskService) afterMutation(ctx context.Context, userID string, msg domain.Message) {
	if s.cache != nil {
		s.cache.Evict(ctx, userID)
	}
	if s.pub != nil {
		s.pub.Publish(ctx, userID, msg)
	}
}

func changesFromPayload(p taskPayload) (propagate.TaskChanges, error) {
	c := propagate.TaskChanges{
		Title:       p.Title,
		Description: p.Description,
		IsCompleted: p.IsCompleted,
		Order:       p.Order,
		DurationMin: p.Duration,
		Tags:        p.Tags,
		ProjectID:   p.ProjectID,
		Rule:        p.Rule,
	}
	if p.Status != nil {
		st := domain.Status(*p.Status)
		if !domain.ValidStatus(st) {
			return c, fmt.Errorf("unknown status %q", *p.Status)
		}
		c.Status = &st
	}
	var err error
	if c.ColumnDate, err = parseDate(p.ColumnDate); err != nil {
		return c, err
	}
	if c.StartAt, err = parseTime(p.StartAt); err != nil {
		return c, err
	}
	if c.EndAt, err = parseTime(p.EndAt); err != nil {
		return c, err
	}
	return c, nil
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(domain.DateLayout, *s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("bad date %q", *s)
	}
	return &t, nil
}

func parseTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q", *s)
	}
	t = t.UTC()
	return &t, nil
}
