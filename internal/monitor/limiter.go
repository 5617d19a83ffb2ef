package monitor

import "sync"

// InflightLimiter ensures that only one probe per target is outstanding at any given time.
type InflightLimiter struct {
	mu      sync.Mutex
	targets map[string]struct{}
}

// NewInflightLimiter creates an empty limiter.
func NewInflightLimiter() *InflightLimiter {
	return &InflightLimiter{targets: make(map[string]struct{})}
}

// Acquire reports whether the caller may probe key now.
func (l *InflightLimiter) Acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.targets[key]; busy {
		return false
	}
	l.targets[key] = struct{}{}
	return true
}

// Release marks the probe for key as finished.
func (l *InflightLimiter) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.targets, key)
}

// Len is the number of probes currently outstanding.
func (l *InflightLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.targets)
}
