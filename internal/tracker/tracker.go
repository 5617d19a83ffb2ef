// Package tracker holds the per-target reachability state machine.
//
// Each target has a single writer at a time: probe results, stop requests and the
// log entry a transition produces are serialised per target, while different
// targets update independently.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"serverwatch/internal/eventlog"
	"serverwatch/internal/models"
)

const subscriberBuffer = 64

// ErrUnknownTarget is returned for names the tracker does not hold.
var ErrUnknownTarget = errors.New("unknown target")

// Recorder persists transition messages. *eventlog.Log satisfies it.
type Recorder interface {
	Record(message, statusSummary string) (models.LogEntry, error)
}

// Job identifies one probe assignment. Generation ties a result to the record it was dispatched for.
type Job struct {
	Target     models.Target
	Generation uint64
}

type record struct {
	// write serialises writers, including the log entry they emit.
	write sync.Mutex

	mu          sync.Mutex
	target      models.Target
	state       models.State
	generation  uint64
	retired     bool
	lastChecked time.Time
	lastChange  time.Time
	lastError   string
}

// Tracker owns the state of every target in the current scheduling instance.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*record

	generation atomic.Uint64
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time

	subMu       sync.Mutex
	subscribers []chan models.Transition
	dropped     atomic.Int64
}

// New creates an empty tracker. recorder may be nil.
func New(recorder Recorder, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		records:  make(map[string]*record),
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Reset replaces the whole target set. Every target starts Unknown and results
// dispatched for earlier records are discarded. When Reset returns, no writer
// on a replaced record is still running.
func (t *Tracker) Reset(targets []models.Target) {
	records := make(map[string]*record, len(targets))
	for _, target := range targets {
		if _, ok := records[target.Key()]; ok {
			continue
		}
		records[target.Key()] = t.newRecord(target)
	}

	t.mu.Lock()
	old := t.records
	t.records = records
	t.mu.Unlock()

	for _, rec := range old {
		rec.write.Lock()
		rec.mu.Lock()
		rec.retired = true
		rec.mu.Unlock()
		rec.write.Unlock()
	}
}

// Add starts tracking a target. It returns false if the name is already tracked.
func (t *Tracker) Add(target models.Target) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[target.Key()]; ok {
		return false
	}
	t.records[target.Key()] = t.newRecord(target)
	return true
}

func (t *Tracker) newRecord(target models.Target) *record {
	return &record{
		target:     target,
		state:      models.StateUnknown,
		generation: t.generation.Add(1),
	}
}

func (t *Tracker) lookup(name string) (*record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[models.NameKey(name)]
	return rec, ok
}

// Active lists the targets that should be probed in the next round.
func (t *Tracker) Active() []Job {
	t.mu.RLock()
	recs := make([]*record, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, rec)
	}
	t.mu.RUnlock()

	jobs := make([]Job, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.state != models.StateStopped {
			jobs = append(jobs, Job{Target: rec.target, Generation: rec.generation})
		}
		rec.mu.Unlock()
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Target.Key() < jobs[j].Target.Key()
	})
	return jobs
}

// Apply feeds one probe outcome into the state machine. accepted is false when
// the result was discarded because its target is stopped, replaced or unknown.
// changed reports a transition between Online and Offline.
func (t *Tracker) Apply(job Job, result models.ProbeResult) (tr models.Transition, changed, accepted bool) {
	rec, ok := t.lookup(job.Target.Name)
	if !ok {
		return models.Transition{}, false, false
	}

	rec.write.Lock()
	defer rec.write.Unlock()

	rec.mu.Lock()
	if rec.retired || rec.generation != job.Generation || rec.state == models.StateStopped {
		rec.mu.Unlock()
		return models.Transition{}, false, false
	}
	from := rec.state
	to := nextState(from, result.OK)
	rec.lastChecked = result.CheckedAt
	rec.lastError = result.Error
	changed = from != to && (to == models.StateOnline || from == models.StateOnline)
	rec.state = to
	if changed {
		rec.lastChange = result.CheckedAt
	}
	target := rec.target
	rec.mu.Unlock()

	if !changed {
		return models.Transition{}, false, true
	}
	return t.emit(target, from, to), true, true
}

// Stop moves a target to Stopped and excludes it from later rounds.
// Stopping an already stopped target is a no-op.
func (t *Tracker) Stop(name string) (models.Transition, error) {
	for {
		rec, ok := t.lookup(name)
		if !ok {
			return models.Transition{}, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
		}
		if tr, done := t.stopRecord(rec); done {
			return tr, nil
		}
	}
}

// stopRecord reports done=false when rec was replaced by a concurrent Reset.
func (t *Tracker) stopRecord(rec *record) (models.Transition, bool) {
	rec.write.Lock()
	defer rec.write.Unlock()

	rec.mu.Lock()
	if rec.retired {
		rec.mu.Unlock()
		return models.Transition{}, false
	}
	from := rec.state
	if from == models.StateStopped {
		rec.mu.Unlock()
		return models.Transition{}, true
	}
	rec.state = models.StateStopped
	rec.lastChange = t.now().UTC()
	target := rec.target
	rec.mu.Unlock()

	return t.emit(target, from, models.StateStopped), true
}

// nextState is the transition table. Stopped is handled by the callers.
func nextState(from models.State, ok bool) models.State {
	if ok {
		return models.StateOnline
	}
	return models.StateOffline
}

func (t *Tracker) emit(target models.Target, from, to models.State) models.Transition {
	tr := models.Transition{
		Target:  target.Name,
		From:    from,
		To:      to,
		At:      t.now().UTC(),
		Summary: t.States(),
	}

	if t.recorder != nil {
		if _, err := t.recorder.Record(tr.Message(), eventlog.Summary(tr.Summary)); err != nil {
			t.logger.Error("failed to record transition", "target", target.Name, "error", err)
		}
	}
	t.logger.Info("target state changed", "target", target.Name, "from", from, "to", to)
	t.broadcast(tr)
	return tr
}

// State returns the current state of one target.
func (t *Tracker) State(name string) (models.State, bool) {
	rec, ok := t.lookup(name)
	if !ok {
		return "", false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, true
}

// Status returns the read-only view of one target.
func (t *Tracker) Status(name string) (models.TargetStatus, bool) {
	rec, ok := t.lookup(name)
	if !ok {
		return models.TargetStatus{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.status(), true
}

// States maps display names to current states.
func (t *Tracker) States() map[string]models.State {
	t.mu.RLock()
	recs := make([]*record, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, rec)
	}
	t.mu.RUnlock()

	out := make(map[string]models.State, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out[rec.target.Name] = rec.state
		rec.mu.Unlock()
	}
	return out
}

// Snapshot returns a read-only view of every target ordered by name.
func (t *Tracker) Snapshot() []models.TargetStatus {
	t.mu.RLock()
	recs := make([]*record, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, rec)
	}
	t.mu.RUnlock()

	out := make([]models.TargetStatus, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.status())
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return models.NameKey(out[i].Name) < models.NameKey(out[j].Name)
	})
	return out
}

// status must be called with rec.mu held.
func (rec *record) status() models.TargetStatus {
	return models.TargetStatus{
		Name:        rec.target.Name,
		Address:     rec.target.Address,
		State:       rec.state,
		LastChecked: rec.lastChecked,
		LastChange:  rec.lastChange,
		LastError:   rec.lastError,
	}
}

// Subscribe returns a buffered channel receiving every transition.
// A subscriber that falls behind loses transitions instead of blocking the tracker.
func (t *Tracker) Subscribe() <-chan models.Transition {
	ch := make(chan models.Transition, subscriberBuffer)
	t.subMu.Lock()
	t.subscribers = append(t.subscribers, ch)
	t.subMu.Unlock()
	return ch
}

// Unsubscribe detaches and closes a channel returned by Subscribe.
func (t *Tracker) Unsubscribe(ch <-chan models.Transition) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for i, sub := range t.subscribers {
		if sub == ch {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Dropped is the number of transitions lost to slow subscribers.
func (t *Tracker) Dropped() int64 {
	return t.dropped.Load()
}

func (t *Tracker) broadcast(tr models.Transition) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- tr:
		default:
			n := t.dropped.Add(1)
			t.logger.Warn("dropped transition for slow subscriber", "target", tr.Target, "dropped", n)
		}
	}
}
