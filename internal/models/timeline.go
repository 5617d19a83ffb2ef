package models

import "time"

// TimelinePoint is one bucket of a target's reachability history.
type TimelinePoint struct {
	ClassName string           `json:"class"`
	Label     string           `json:"label"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	Details   []TimelineDetail `json:"details,omitempty"`
}

// TimelineDetail captures a failing probe inside a bucket.
type TimelineDetail struct {
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
}

// TargetTimeline groups the timeline points of one target.
type TargetTimeline struct {
	Name     string          `json:"name"`
	Timeline []TimelinePoint `json:"timeline"`
}
