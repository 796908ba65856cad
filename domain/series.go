package domain

// RecurrenceSeries is the shared recurrence rule behind a family of task
// occurrences. It is owned by no single task: occurrences reference it and
// it is removed only once nothing references it anymore.
type RecurrenceSeries struct {
	ID   string
	// Rule is an RFC-5545 RRULE content string, e.g.
	// "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE".
	Rule string
}
