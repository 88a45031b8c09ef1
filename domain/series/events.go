package series

import "strings"

// Event is one task interval from a BIDS events table
type Event struct {
	Onset     float64 // seconds from scan start
	Duration  float64 // seconds
	Condition string
}

// EventTable holds the task timing for one run
type EventTable struct {
	Events []Event
}

// baselineKeywords are condition labels treated as implicit rest: a
// request for one of these selects every timepoint not covered by any
// event, rather than looking for events literally named "baseline".
var baselineKeywords = map[string]bool{
	"baseline":    true,
	"rest":        true,
	"iti":         true,
	"inter-trial": true,
}

// IsBaselineCondition reports whether a requested condition name is a
// baseline keyword (case-insensitive)
func IsBaselineCondition(name string) bool {
	return baselineKeywords[strings.ToLower(name)]
}

// Conditions returns the distinct condition labels in first-appearance
// order
func (e *EventTable) Conditions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ev := range e.Events {
		if !seen[ev.Condition] {
			seen[ev.Condition] = true
			out = append(out, ev.Condition)
		}
	}
	return out
}

// HasCondition reports whether any event carries the given label
func (e *EventTable) HasCondition(name string) bool {
	for _, ev := range e.Events {
		if ev.Condition == name {
			return true
		}
	}
	return false
}

// ForCondition returns the events carrying the given label
func (e *EventTable) ForCondition(name string) []Event {
	var out []Event
	for _, ev := range e.Events {
		if ev.Condition == name {
			out = append(out, ev)
		}
	}
	return out
}
