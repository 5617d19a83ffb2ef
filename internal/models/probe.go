package models

import "time"

// ProbeResult captures the outcome of a single reachability probe.
type ProbeResult struct {
	Target    string        `json:"target"`
	Address   string        `json:"address"`
	OK        bool          `json:"ok"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Sample is an archived probe outcome.
type Sample struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Address   string    `json:"address"`
	OK        bool      `json:"ok"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
