// Package monitor schedules probe rounds and routes their results into the tracker.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"serverwatch/internal/models"
	"serverwatch/internal/probe"
	"serverwatch/internal/registry"
	"serverwatch/internal/storage"
	"serverwatch/internal/tracker"
)

const (
	defaultInterval    = 5 * time.Second
	defaultConcurrency = 32
	archiveTimeout     = 2 * time.Second
	archiveQueue       = 1024
)

// ErrStopped is returned by RunRound once the monitor has shut down.
var ErrStopped = errors.New("monitor stopped")

// Options tunes a Monitor.
type Options struct {
	Interval       time.Duration
	Timeout        time.Duration
	MaxConcurrency int
	Prober         probe.Prober
	// Archive receives every probe outcome when set.
	Archive storage.SampleStore
	Logger  *slog.Logger
}

type outcome struct {
	job    tracker.Job
	result models.ProbeResult
	done   func()
}

// Monitor periodically probes every active target and owns the add, stop and
// refresh commands issued by the presentation layer.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	prober   probe.Prober
	archive  storage.SampleStore
	logger   *slog.Logger

	registry *registry.Registry
	tracker  *tracker.Tracker
	pool     *WorkerPool
	inflight *InflightLimiter
	results  chan outcome

	samples         chan models.Sample
	archiveDropped  atomic.Int64
	archiveFinished chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	running   chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	applied   chan struct{}
}

// New wires a monitor around the registry and tracker and seeds the tracker
// with the registry's current snapshot. Probing starts with Start or RunRound.
func New(reg *registry.Registry, tr *tracker.Tracker, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = probe.DefaultTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultConcurrency
	}
	if opts.Prober == nil {
		opts.Prober = probe.NewTCPProber(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	queue := opts.MaxConcurrency * 8
	m := &Monitor{
		interval: opts.Interval,
		timeout:  opts.Timeout,
		prober:   opts.Prober,
		archive:  opts.Archive,
		logger:   opts.Logger,
		registry: reg,
		tracker:  tr,
		pool:     NewWorkerPool(opts.MaxConcurrency, queue),
		inflight: NewInflightLimiter(),
		results:  make(chan outcome, queue),
		running:  make(chan struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		applied:  make(chan struct{}),

		samples:         make(chan models.Sample, archiveQueue),
		archiveFinished: make(chan struct{}),
	}
	tr.Reset(reg.List())
	go m.deliver()
	go m.archiveLoop()
	return m
}

// Start launches the periodic round loop in a goroutine.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		close(m.running)
		go m.run()
	})
}

// Stop halts the round loop. Probes already handed to the pool finish, their
// results are applied and queued samples are archived before Stop returns.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		select {
		case <-m.running:
			<-m.doneCh
		default:
		}
		m.pool.Stop()
		close(m.results)
		<-m.applied
		close(m.samples)
		<-m.archiveFinished
	})
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	m.logger.Info("starting monitor loop", "interval", m.interval, "timeout", m.timeout)
	m.dispatch(nil)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.dispatch(nil)
		case <-m.stopCh:
			m.logger.Info("monitor loop stopped")
			return
		}
	}
}

// RunRound dispatches one round and waits until its results have been applied.
// It returns the number of probes dispatched.
func (m *Monitor) RunRound(ctx context.Context) (int, error) {
	select {
	case <-m.stopCh:
		return 0, ErrStopped
	default:
	}

	var wg sync.WaitGroup
	n := m.dispatch(&wg)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return n, nil
	case <-ctx.Done():
		return n, ctx.Err()
	}
}

// dispatch hands one probe per active target to the pool and returns at once.
// A target whose previous probe is still outstanding is skipped this round.
func (m *Monitor) dispatch(wg *sync.WaitGroup) int {
	jobs := m.tracker.Active()
	dispatched := 0
	for _, job := range jobs {
		key := job.Target.Key()
		if !m.inflight.Acquire(key) {
			m.logger.Debug("probe still in flight, skipping", "target", job.Target.Name)
			continue
		}
		if wg != nil {
			wg.Add(1)
		}
		done := func() {
			m.inflight.Release(key)
			if wg != nil {
				wg.Done()
			}
		}

		job := job
		if !m.pool.Submit(func() { m.execute(job, done) }) {
			m.logger.Warn("probe queue full, skipping", "target", job.Target.Name)
			done()
			continue
		}
		dispatched++
	}
	m.logger.Debug("round dispatched", "probes", dispatched, "active", len(jobs), "inflight", m.inflight.Len())
	return dispatched
}

func (m *Monitor) execute(job tracker.Job, done func()) {
	result := probe.Run(context.Background(), m.prober, job.Target, m.timeout)
	if !result.OK {
		m.logger.Debug("probe failed", "target", job.Target.Name, "address", job.Target.Address, "error", result.Error)
	}
	m.results <- outcome{job: job, result: result, done: done}
}

// deliver is the only goroutine that feeds probe results into the tracker.
// It never touches the archive directly.
func (m *Monitor) deliver() {
	defer close(m.applied)
	for o := range m.results {
		if _, _, accepted := m.tracker.Apply(o.job, o.result); accepted {
			m.enqueueSample(o.result)
		}
		o.done()
	}
}

// enqueueSample hands an accepted result to the archiver. A full queue drops the sample.
func (m *Monitor) enqueueSample(result models.ProbeResult) {
	if m.archive == nil {
		return
	}
	sample := models.Sample{
		Target:    result.Target,
		Address:   result.Address,
		OK:        result.OK,
		LatencyMs: result.Latency.Milliseconds(),
		Error:     result.Error,
		CheckedAt: result.CheckedAt,
	}
	select {
	case m.samples <- sample:
	default:
		n := m.archiveDropped.Add(1)
		m.logger.Warn("archive queue full, dropping sample", "target", result.Target, "dropped", n)
	}
}

func (m *Monitor) archiveLoop() {
	defer close(m.archiveFinished)
	for sample := range m.samples {
		m.archiveSample(sample)
	}
}

func (m *Monitor) archiveSample(sample models.Sample) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := m.archive.RecordSample(ctx, &sample); err != nil {
		m.logger.Error("failed to archive probe result", "target", sample.Target, "error", err)
	}
}

// ArchiveDropped is the number of samples lost because the archive fell behind.
func (m *Monitor) ArchiveDropped() int64 {
	return m.archiveDropped.Load()
}

// DroppedTransitions is the number of transitions lost to slow subscribers.
func (m *Monitor) DroppedTransitions() int64 {
	return m.tracker.Dropped()
}

// AddTarget registers a new target durably and schedules it from the next round.
func (m *Monitor) AddTarget(name, address string) (models.Target, error) {
	target, err := m.registry.Add(name, address)
	if err != nil {
		return models.Target{}, err
	}
	m.tracker.Add(target)
	return target, nil
}

// StopTarget halts monitoring of a target until the next refresh.
func (m *Monitor) StopTarget(name string) error {
	if _, err := m.tracker.Stop(name); err != nil {
		return fmt.Errorf("stop %q: %w", name, err)
	}
	return nil
}

// Refresh reloads the registry from disk, resets every target to Unknown and
// probes the new set straight away when the loop is running.
func (m *Monitor) Refresh() error {
	targets, err := m.registry.Load()
	if err != nil {
		return fmt.Errorf("refresh registry: %w", err)
	}
	m.tracker.Reset(targets)
	m.logger.Info("registry refreshed", "targets", len(targets))

	select {
	case <-m.stopCh:
	case <-m.running:
		m.dispatch(nil)
	default:
	}
	return nil
}

// Target returns the registered target and its tracked state. A registered
// target the tracker does not hold yet is reported as Unknown.
func (m *Monitor) Target(name string) (models.TargetStatus, error) {
	target, ok := m.registry.Get(name)
	if !ok {
		return models.TargetStatus{}, fmt.Errorf("get %q: %w", name, tracker.ErrUnknownTarget)
	}
	if status, ok := m.tracker.Status(name); ok {
		return status, nil
	}
	return models.TargetStatus{Name: target.Name, Address: target.Address, State: models.StateUnknown}, nil
}

// Snapshot returns the current view of every target.
func (m *Monitor) Snapshot() []models.TargetStatus {
	return m.tracker.Snapshot()
}

// Subscribe streams transitions to the caller; see tracker.Tracker.Subscribe.
func (m *Monitor) Subscribe() <-chan models.Transition {
	return m.tracker.Subscribe()
}

// Unsubscribe detaches a channel returned by Subscribe.
func (m *Monitor) Unsubscribe(ch <-chan models.Transition) {
	m.tracker.Unsubscribe(ch)
}
