package domain

// EditScope is the blast radius of an edit to a recurring task: just the
// targeted occurrence, the occurrence plus all future siblings, or the whole
// series including past siblings.
type EditScope string

const (
	ScopeSingle EditScope = "single"
	ScopeFuture EditScope = "future"
	ScopeAll    EditScope = "all"
)

// ParseScope maps a client-provided scope string to an EditScope. Unknown or
// empty values degrade to ScopeSingle, matching the most conservative
// propagation behavior.
func ParseScope(s string) EditScope {
	switch EditScope(s) {
	case ScopeFuture:
		return ScopeFuture
	case ScopeAll:
		return ScopeAll
	default:
		return ScopeSingle
	}
}
