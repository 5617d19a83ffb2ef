package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"serverwatch/internal/eventlog"
	"serverwatch/internal/models"
	"serverwatch/internal/probe"
	"serverwatch/internal/registry"
	"serverwatch/internal/storage"
	"serverwatch/internal/tracker"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeNetwork answers probes from a table and counts calls per address.
type fakeNetwork struct {
	mu        sync.Mutex
	reachable map[string]bool
	delay     map[string]time.Duration
	calls     map[string]int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		reachable: make(map[string]bool),
		delay:     make(map[string]time.Duration),
		calls:     make(map[string]int),
	}
}

func (n *fakeNetwork) set(address string, up bool) {
	n.mu.Lock()
	n.reachable[address] = up
	n.mu.Unlock()
}

func (n *fakeNetwork) Probe(ctx context.Context, address string) error {
	n.mu.Lock()
	n.calls[address]++
	up := n.reachable[address]
	delay := n.delay[address]
	n.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !up {
		return errors.New("host unreachable")
	}
	return nil
}

func (n *fakeNetwork) count(address string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[address]
}

type fixture struct {
	dir      string
	registry *registry.Registry
	log      *eventlog.Log
	tracker  *tracker.Tracker
	monitor  *Monitor
}

func newFixture(t *testing.T, registryJSON string, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	regPath := filepath.Join(dir, "servers.json")
	if registryJSON != "" {
		if err := os.WriteFile(regPath, []byte(registryJSON), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reg := registry.New(regPath, quietLogger())
	if _, err := reg.Load(); err != nil {
		t.Fatal(err)
	}
	log, err := eventlog.Open(filepath.Join(dir, "logs"), eventlog.WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	tr := tracker.New(log, quietLogger())
	opts.Logger = quietLogger()
	m := New(reg, tr, opts)
	t.Cleanup(m.Stop)
	return &fixture{dir: dir, registry: reg, log: log, tracker: tr, monitor: m}
}

func (f *fixture) state(t *testing.T, name string) models.State {
	t.Helper()
	s, ok := f.tracker.State(name)
	if !ok {
		t.Fatalf("target %s not tracked", name)
	}
	return s
}

func TestRoundScenario(t *testing.T) {
	net := newFakeNetwork()
	net.set("10.0.0.5", true)
	net.set("10.0.0.9", false)
	net.delay["10.0.0.5"] = time.Duration(rand.Intn(30)) * time.Millisecond
	net.delay["10.0.0.9"] = time.Duration(rand.Intn(30)) * time.Millisecond

	f := newFixture(t, `{"api": {"ip": "10.0.0.5"}, "db": {"ip": "10.0.0.9"}}`, Options{Prober: net, Timeout: time.Second})

	n, err := f.monitor.RunRound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("dispatched %d probes, want 2", n)
	}
	if got := f.state(t, "api"); got != models.StateOnline {
		t.Errorf("api = %s, want online", got)
	}
	if got := f.state(t, "db"); got != models.StateOffline {
		t.Errorf("db = %s, want offline", got)
	}

	// Unknown to Offline is not a transition, so db's first failure writes nothing
	// and the round produces a single entry.
	entries := f.log.Entries()
	if len(entries) != 1 || entries[0].Message != "api became reachable" {
		t.Fatalf("unexpected log entries %+v", entries)
	}

	net.set("10.0.0.5", false)
	if _, err := f.monitor.RunRound(context.Background()); err != nil {
		t.Fatal(err)
	}
	entries = f.log.Entries()
	if len(entries) != 2 || entries[1].Message != "api became unreachable" {
		t.Fatalf("unexpected log entries %+v", entries)
	}
	if !strings.Contains(entries[1].StatusSummary, "api=OFFLINE") || !strings.Contains(entries[1].StatusSummary, "db=OFFLINE") {
		t.Errorf("summary should show every target, got %q", entries[1].StatusSummary)
	}

	durable, err := eventlog.ReadFile(f.log.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(durable) != 2 {
		t.Fatalf("durable log has %d entries, want 2", len(durable))
	}
}

func TestStoppedTargetIsNeverProbedUntilRefresh(t *testing.T) {
	net := newFakeNetwork()
	net.set("10.0.0.5", true)
	net.set("10.0.0.9", true)
	f := newFixture(t, `{"api": {"ip": "10.0.0.5"}, "db": {"ip": "10.0.0.9"}}`, Options{Prober: net})

	if _, err := f.monitor.RunRound(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.monitor.StopTarget("API"); err != nil {
		t.Fatal(err)
	}
	before := net.count("10.0.0.5")
	for i := 0; i < 5; i++ {
		if _, err := f.monitor.RunRound(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if after := net.count("10.0.0.5"); after != before {
		t.Fatalf("stopped target probed %d more times", after-before)
	}
	if net.count("10.0.0.9") != 6 {
		t.Fatalf("active target should be probed every round, got %d", net.count("10.0.0.9"))
	}
	if got := f.state(t, "api"); got != models.StateStopped {
		t.Fatalf("api = %s, want stopped", got)
	}

	if err := f.monitor.Refresh(); err != nil {
		t.Fatal(err)
	}
	if got := f.state(t, "api"); got != models.StateUnknown {
		t.Fatalf("refresh should reset api to unknown, got %s", got)
	}
	if _, err := f.monitor.RunRound(context.Background()); err != nil {
		t.Fatal(err)
	}
	if net.count("10.0.0.5") != before+1 {
		t.Fatal("refresh should re-arm probing of the stopped target")
	}

	if err := f.monitor.StopTarget("ghost"); !errors.Is(err, tracker.ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestAddTargetSchedulesNextRound(t *testing.T) {
	net := newFakeNetwork()
	net.set("10.0.0.7", true)
	f := newFixture(t, "", Options{Prober: net})

	if _, err := f.monitor.AddTarget("Web", "10.0.0.7"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.monitor.AddTarget("web", "10.0.0.8"); !errors.Is(err, registry.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	if _, err := f.monitor.RunRound(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.state(t, "web"); got != models.StateOnline {
		t.Fatalf("web = %s, want online", got)
	}
	if net.count("10.0.0.8") != 0 {
		t.Fatal("rejected address must never be probed")
	}
}

func TestSlowProbeDoesNotDelayOthers(t *testing.T) {
	net := newFakeNetwork()
	net.set("slow", true)
	net.set("fast", true)
	net.delay["slow"] = 10 * time.Second

	f := newFixture(t, `{"slow": {"ip": "slow"}, "fast": {"ip": "fast"}}`, Options{
		Prober:   net,
		Interval: 20 * time.Millisecond,
		Timeout:  400 * time.Millisecond,
	})
	sub := f.monitor.Subscribe()
	f.monitor.Start()

	select {
	case tr := <-sub:
		if tr.Target != "fast" || tr.To != models.StateOnline {
			t.Fatalf("first transition should come from the fast target, got %+v", tr)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("fast target result was held back by the slow probe")
	}

	time.Sleep(200 * time.Millisecond)
	if n := net.count("fast"); n < 4 {
		t.Fatalf("rounds should keep firing while a probe is slow, fast probed %d times", n)
	}
	if n := net.count("slow"); n != 1 {
		t.Fatalf("slow target should not overlap its own in-flight probe, probed %d times", n)
	}
}

func TestConcurrentRoundKeepsEachTargetsOwnResult(t *testing.T) {
	net := newFakeNetwork()
	doc := "{"
	want := make(map[string]models.State)
	for i := 0; i < 20; i++ {
		name := string(rune('a' + i))
		up := i%3 != 0
		net.set(name, up)
		net.delay[name] = time.Duration(rand.Intn(50)) * time.Millisecond
		if up {
			want[name] = models.StateOnline
		} else {
			want[name] = models.StateOffline
		}
		if i > 0 {
			doc += ","
		}
		doc += `"` + name + `": {"ip": "` + name + `"}`
	}
	doc += "}"

	f := newFixture(t, doc, Options{Prober: net, MaxConcurrency: 4, Timeout: time.Second})
	if _, err := f.monitor.RunRound(context.Background()); err != nil {
		t.Fatal(err)
	}
	for name, state := range f.tracker.States() {
		if state != want[name] {
			t.Errorf("%s = %s, want %s", name, state, want[name])
		}
	}
	if got := len(f.log.Entries()); got != 13 {
		t.Errorf("expected 13 reachable transitions, got %d", got)
	}
}

func TestTimedOutProbeMarksOffline(t *testing.T) {
	hang := probe.Func(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	f := newFixture(t, `{"api": {"ip": "10.0.0.5"}}`, Options{Prober: hang, Timeout: 30 * time.Millisecond})

	started := time.Now()
	if _, err := f.monitor.RunRound(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(started) > time.Second {
		t.Fatal("round should be bounded by the probe timeout")
	}
	if got := f.state(t, "api"); got != models.StateOffline {
		t.Fatalf("api = %s, want offline", got)
	}
}

type memArchive struct {
	mu      sync.Mutex
	samples []models.Sample
}

func (a *memArchive) RecordSample(_ context.Context, s *models.Sample) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = append(a.samples, *s)
	return nil
}

func (a *memArchive) GetSample(context.Context, string) (*models.Sample, error) {
	return nil, storage.ErrNotFound
}

func (a *memArchive) ListSamples(context.Context, storage.ListSamplesParams) ([]models.Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Sample(nil), a.samples...), nil
}

func (a *memArchive) Close() error { return nil }

// waitFor polls until n samples are stored or the deadline passes, returning the final count.
func (a *memArchive) waitFor(n int, within time.Duration) int {
	deadline := time.Now().Add(within)
	for {
		a.mu.Lock()
		got := len(a.samples)
		a.mu.Unlock()
		if got >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEveryProbeIsArchived(t *testing.T) {
	net := newFakeNetwork()
	net.set("10.0.0.5", true)
	archive := &memArchive{}
	f := newFixture(t, `{"api": {"ip": "10.0.0.5"}, "db": {"ip": "10.0.0.9"}}`, Options{Prober: net, Archive: archive})

	for i := 0; i < 3; i++ {
		if _, err := f.monitor.RunRound(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := archive.waitFor(6, time.Second); got != 6 {
		t.Fatalf("expected 6 archived samples, got %d", got)
	}
}

// slowArchive takes delay per write.
type slowArchive struct {
	memArchive
	delay time.Duration
}

func (a *slowArchive) RecordSample(ctx context.Context, s *models.Sample) error {
	time.Sleep(a.delay)
	return a.memArchive.RecordSample(ctx, s)
}

func TestSlowArchiveDoesNotDelayStateUpdates(t *testing.T) {
	net := newFakeNetwork()
	doc := `{"a": {"ip": "a"}, "b": {"ip": "b"}, "c": {"ip": "c"}, "d": {"ip": "d"}}`
	for _, addr := range []string{"a", "b", "c", "d"} {
		net.set(addr, true)
	}
	archive := &slowArchive{delay: 500 * time.Millisecond}
	f := newFixture(t, doc, Options{Prober: net, Archive: archive, Interval: time.Hour})

	started := time.Now()
	if _, err := f.monitor.RunRound(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(started); elapsed > 300*time.Millisecond {
		t.Fatalf("round took %v waiting on the archive", elapsed)
	}
	for name, state := range f.tracker.States() {
		if state != models.StateOnline {
			t.Errorf("%s = %s, want online", name, state)
		}
	}
}

func TestResultForStoppedTargetIsNotArchived(t *testing.T) {
	net := newFakeNetwork()
	net.set("10.0.0.5", true)
	net.delay["10.0.0.5"] = 200 * time.Millisecond
	archive := &memArchive{}
	f := newFixture(t, `{"api": {"ip": "10.0.0.5"}}`, Options{Prober: net, Archive: archive, Timeout: time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := f.monitor.RunRound(context.Background())
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if err := f.monitor.StopTarget("api"); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	f.monitor.Stop()

	if got := f.state(t, "api"); got != models.StateStopped {
		t.Fatalf("api = %s, want stopped", got)
	}
	if samples, _ := archive.ListSamples(context.Background(), storage.ListSamplesParams{}); len(samples) != 0 {
		t.Fatalf("discarded result was archived: %+v", samples)
	}
}

func TestStopLetsInflightProbesFinish(t *testing.T) {
	var finished atomic.Int32
	slow := probe.Func(func(ctx context.Context, _ string) error {
		time.Sleep(50 * time.Millisecond)
		finished.Add(1)
		return nil
	})
	f := newFixture(t, `{"api": {"ip": "a"}, "db": {"ip": "b"}}`, Options{Prober: slow, Interval: time.Hour})
	f.monitor.Start()
	time.Sleep(10 * time.Millisecond)
	f.monitor.Stop()

	if finished.Load() != 2 {
		t.Fatalf("in-flight probes should complete, %d finished", finished.Load())
	}
	if _, err := f.monitor.RunRound(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestTargetLookup(t *testing.T) {
	net := newFakeNetwork()
	net.set("10.0.0.5", true)
	f := newFixture(t, `{"api": {"name": "API", "ip": "10.0.0.5"}}`, Options{Prober: net})
	if _, err := f.monitor.RunRound(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, err := f.monitor.Target("api")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "API" || got.State != models.StateOnline {
		t.Fatalf("unexpected status %+v", got)
	}
	if _, err := f.monitor.Target("ghost"); !errors.Is(err, tracker.ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
	if f.monitor.DroppedTransitions() != 0 || f.monitor.ArchiveDropped() != 0 {
		t.Fatal("nothing should have been dropped")
	}
}
