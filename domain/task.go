package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle column a task lives in. Completion is tracked
// separately in IsCompleted; a task can sit ON_BOARD and be completed.
type Status string

const (
	StatusBacklog   Status = "BACKLOG"
	StatusBraindump Status = "BRAINDUMP"
	StatusOnBoard   Status = "ON_BOARD"
	StatusOnCal     Status = "ON_CAL"
	StatusCompleted Status = "COMPLETED"
	StatusArchived  Status = "ARCHIVED"
)

// ValidStatus reports whether s is one of the known lifecycle statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusBacklog, StatusBraindump, StatusOnBoard, StatusOnCal, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// DefaultSpan is applied when a task gains a start time without an end time
// or when a write would leave end before start.
const DefaultSpan = 30 * time.Minute

// Task is a single planner item: a standalone task or one concrete
// occurrence of a recurrence series.
type Task struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Status      Status
	IsCompleted bool
	// Order is a dense sibling sort key within one board column or pool.
	// It is a UI ordering hint, unique only within its grouping context.
	Order       int
	DurationMin *int
	// ColumnDate places the task in a kanban day-column. Nil means the task
	// is unscheduled (backlog / braindump).
	ColumnDate *time.Time
	StartAt    *time.Time
	EndAt      *time.Time
	// SeriesID links an occurrence to its recurrence series. Nil means
	// non-recurring.
	SeriesID  *string
	ProjectID *string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOccurrence reports whether the task belongs to a recurrence series.
func (t *Task) IsOccurrence() bool { return t.SeriesID != nil && *t.SeriesID != "" }

// AnchorTime is the point a task sits on the timeline: StartAt when set,
// otherwise ColumnDate. Siblings order by this value.
func (t *Task) AnchorTime() (time.Time, bool) {
	if t.StartAt != nil {
		return *t.StartAt, true
	}
	if t.ColumnDate != nil {
		return *t.ColumnDate, true
	}
	return time.Time{}, false
}

// SpanDuration returns the task's wall-clock span, falling back to DefaultSpan.
func (t *Task) SpanDuration() time.Duration {
	if t.DurationMin != nil && *t.DurationMin > 0 {
		return time.Duration(*t.DurationMin) * time.Minute
	}
	return DefaultSpan
}

// NormalizeSpan enforces end_at >= start_at. A start without an end gains
// end = start + duration; an inverted span is reset to the default span
// instead of rejecting the write.
func (t *Task) NormalizeSpan() {
	if t.StartAt == nil {
		return
	}
	if t.EndAt == nil || t.EndAt.Before(*t.StartAt) {
		end := t.StartAt.Add(t.SpanDuration())
		if t.EndAt != nil && t.EndAt.Before(*t.StartAt) {
			end = t.StartAt.Add(DefaultSpan)
		}
		t.EndAt = &end
	}
}

// Record is the wire shape of a task, used verbatim in WebSocket frames and
// fan-out payloads.
type Record struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Status          Status   `json:"status"`
	IsCompleted     bool     `json:"is_completed"`
	Order           int      `json:"order"`
	Duration        *int     `json:"duration"`
	DurationDisplay string   `json:"duration_display,omitempty"`
	ColumnDate      *string  `json:"column_date"`
	StartAt         *string  `json:"start_at"`
	EndAt           *string  `json:"end_at"`
	Tags            []string `json:"tags"`
	ProjectID       *string  `json:"project_id"`
	SeriesID        *string  `json:"recurrence_series_id"`
}

// Serialize converts a task to its wire record. Display fields are derived
// here, never stored.
func Serialize(t Task) Record {
	r := Record{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		IsCompleted: t.IsCompleted,
		Order:       t.Order,
		Duration:    t.DurationMin,
		Tags:        t.Tags,
		ProjectID:   t.ProjectID,
		SeriesID:    t.SeriesID,
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if t.DurationMin != nil {
		r.DurationDisplay = DurationDisplay(*t.DurationMin)
	}
	if t.ColumnDate != nil {
		d := t.ColumnDate.Format(DateLayout)
		r.ColumnDate = &d
	}
	if t.StartAt != nil {
		s := t.StartAt.UTC().Format(time.RFC3339)
		r.StartAt = &s
	}
	if t.EndAt != nil {
		e := t.EndAt.UTC().Format(time.RFC3339)
		r.EndAt = &e
	}
	return r
}

// SerializeAll maps Serialize over a slice, returning an empty (non-nil)
// slice for empty input so JSON encodes [] rather than null.
func SerializeAll(tasks []Task) []Record {
	records := make([]Record, 0, len(tasks))
	for _, t := range tasks {
		records = append(records, Serialize(t))
	}
	return records
}

// DurationDisplay renders minutes as a compact human string, e.g. "1h 30m".
func DurationDisplay(minutes int) string {
	if minutes <= 0 {
		return ""
	}
	h, m := minutes/60, minutes%60
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh %dm", h, m)
	}
}

// DateLayout is the wire format for day-column dates.
const DateLayout = "2006-01-02"

// DateOf truncates a time to its date in the time's own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
