package domain

// RegenJob asks the regeneration worker to rebuild the future siblings of
// one occurrence. UserID is technically reloadable from the occurrence but
// is carried so a job whose occurrence has vanished stays attributable in
// the logs.
type RegenJob struct {
	OccurrenceID string `json:"occurrenceId"`
	UserID       string `json:"userId"`
	EnqueuedAt   int64  `json:"enqueuedAt"`
}
