package domain

// Message types pushed to connected clients. The recurrence refresh diff and
// full refresh are the two shapes the materialization engine itself emits;
// the task.* frames come from the interactive CRUD path.
const (
	MsgConnected      = "connected"
	MsgTasksList      = "tasks.list"
	MsgTaskCreated    = "task.created"
	MsgTaskUpdated    = "task.updated"
	MsgCalTaskUpdated = "task.cal_task_updated"
	MsgTaskDeleted    = "task.deleted"
	MsgRecRefresh     = "refresh_for_rec_task"
	MsgFullRefresh    = "full_refresh"
	MsgError          = "error"
)

// Message is a single frame pushed to every live session of a user. Exactly
// which optional fields are set depends on Type.
type Message struct {
	Type string `json:"type"`
	// Data carries a Record for task.* frames and []Record for tasks.list.
	Data any `json:"data,omitempty"`
	// ID identifies the subject of task.deleted frames.
	ID string `json:"id,omitempty"`
	// Deleted and Created carry the regeneration diff for refresh_for_rec_task.
	Deleted []string `json:"deleted,omitempty"`
	Created []Record `json:"created,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// RecRefresh builds the diff frame published after a series regeneration or
// a whole-series rewrite. Created carries created or rewritten rows; the
// client treats each entry as an upsert.
func RecRefresh(deleted []string, created []Task) Message {
	return Message{Type: MsgRecRefresh, Deleted: deleted, Created: SerializeAll(created)}
}

// FullRefresh tells the client to refetch everything; used when a per-item
// diff is impractical, e.g. the roll-forward sweep.
func FullRefresh() Message {
	return Message{Type: MsgFullRefresh}
}
