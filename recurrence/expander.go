// Package recurrence expands RFC-5545 recurrence rules into bounded,
// deterministic sets of occurrence times. Expansion is pure: two calls with
// the same arguments return identical sequences.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// RuleParseError reports a malformed recurrence rule. Token names the part
// of the rule that failed so direct edits can surface it to the user, while
// background jobs log it and skip the series.
type RuleParseError struct {
	Token  string
	Reason string
}

func (e *RuleParseError) Error() string {
	return fmt.Sprintf("recurrence: bad rule token %q: %s", e.Token, e.Reason)
}

// The subset of RRULE keys the planner UI emits. Anything else is rejected
// up front so the error names the offending token instead of whatever the
// downstream parser trips over.
var allowedKeys = map[string]bool{
	"FREQ":     true,
	"INTERVAL": true,
	"BYDAY":    true,
	"COUNT":    true,
	"UNTIL":    true,
	"WKST":     true,
}

var allowedFreq = map[string]bool{
	"DAILY":   true,
	"WEEKLY":  true,
	"MONTHLY": true,
	"YEARLY":  true,
}

// Expand returns the occurrence times of rule anchored at anchor, strictly
// after anchor (exclusive) and at or before windowEnd (inclusive), truncated
// to at most maxCount entries. A non-positive maxCount means unbounded.
func Expand(rule string, anchor, windowEnd time.Time, maxCount int) ([]time.Time, error) {
	if maxCount < 0 {
		maxCount = 0
	}
	opt, err := parseRule(rule)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = anchor
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, &RuleParseError{Token: rule, Reason: err.Error()}
	}

	out := make([]time.Time, 0, maxCount)
	for _, d := range r.Between(anchor, windowEnd, true) {
		if !d.After(anchor) {
			// Between is boundary-inclusive; the anchor itself already
			// exists as a task.
			continue
		}
		out = append(out, d)
		if maxCount > 0 && len(out) >= maxCount {
			break
		}
	}
	return out, nil
}

// Validate checks a rule without expanding it. Interactive edits call this
// so a malformed rule is rejected at the request instead of surfacing later
// from a background job.
func Validate(rule string) error {
	_, err := parseRule(rule)
	return err
}

// parseRule validates the rule token by token, then hands the string to
// rrule-go for semantic parsing.
func parseRule(rule string) (*rrule.ROption, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if trimmed == "" {
		return nil, &RuleParseError{Token: rule, Reason: "empty rule"}
	}

	sawFreq := false
	for _, part := range strings.Split(trimmed, ";") {
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found || value == "" {
			return nil, &RuleParseError{Token: part, Reason: "expected KEY=VALUE"}
		}
		key = strings.ToUpper(key)
		if !allowedKeys[key] {
			return nil, &RuleParseError{Token: part, Reason: "unsupported rule key"}
		}
		if key == "FREQ" {
			if !allowedFreq[strings.ToUpper(value)] {
				return nil, &RuleParseError{Token: part, Reason: "unsupported frequency"}
			}
			sawFreq = true
		}
	}
	if !sawFreq {
		return nil, &RuleParseError{Token: trimmed, Reason: "missing FREQ"}
	}

	opt, err := rrule.StrToROption(trimmed)
	if err != nil {
		return nil, &RuleParseError{Token: trimmed, Reason: err.Error()}
	}
	return opt, nil
}
