package models

import "time"

// LogEntry is one line of the dashboard event log.
type LogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	StatusSummary string    `json:"status_summary"`
	Message       string    `json:"message"`
}

// Transition is emitted whenever a target changes state.
type Transition struct {
	Target string    `json:"target"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	// Summary maps every known target (display name) to its state at the time of the transition.
	Summary map[string]State `json:"summary"`
}

// Message describes the transition in words.
func (t Transition) Message() string {
	switch t.To {
	case StateOnline:
		return t.Target + " became reachable"
	case StateOffline:
		return t.Target + " became unreachable"
	case StateStopped:
		return "monitoring stopped for " + t.Target
	default:
		return t.Target + " is " + string(t.To)
	}
}
