package models

import (
	"strings"
	"time"
)

// State is the reachability state of a monitored target.
type State string

const (
	StateUnknown State = "unknown"
	StateOnline  State = "online"
	StateOffline State = "offline"
	StateStopped State = "stopped"
)

// Label renders the state the way the event log and terminal table print it.
func (s State) Label() string {
	if s == "" {
		return strings.ToUpper(string(StateUnknown))
	}
	return strings.ToUpper(string(s))
}

// Target defines a monitored network endpoint.
type Target struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Key returns the case-insensitive identity of the target.
func (t Target) Key() string {
	return NameKey(t.Name)
}

// NameKey canonicalises a target name for uniqueness checks.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TargetStatus is a read-only view of one target and its tracked state.
type TargetStatus struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	State       State     `json:"state"`
	LastChecked time.Time `json:"last_checked,omitempty"`
	LastChange  time.Time `json:"last_change,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}
