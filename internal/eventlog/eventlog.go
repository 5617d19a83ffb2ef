// Package eventlog keeps the append-only dashboard event log: one plain-text,
// column-aligned file per calendar day plus an ordered in-memory mirror.
package eventlog

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"serverwatch/internal/models"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	timestampWidth  = len(timestampLayout)
	statusWidth     = 40
	elision         = "…"
	columnSep       = " | "
	filePrefix      = "events-"
	fileExt         = ".log"
)

// Log appends entries to the daily file and mirrors them in memory.
type Log struct {
	mu      sync.Mutex
	dir     string
	now     func() time.Time
	logger  *slog.Logger
	entries []models.LogEntry
}

// Option customises a Log.
type Option func(*Log)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger sets the process logger used for recoverable problems.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// Open prepares dir and loads today's file into the in-memory view.
// A corrupt or unreadable file leaves the view empty rather than failing.
func Open(dir string, opts ...Option) (*Log, error) {
	l := &Log{dir: dir, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}

	entries, err := ReadFile(l.pathFor(l.now()))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("event log unreadable, starting with an empty view", "dir", dir, "error", err)
		entries = nil
	}
	l.entries = entries
	return l, nil
}

// FileName returns the deterministic log file name for the day containing t.
func FileName(t time.Time) string {
	return filePrefix + t.Format("2006-01-02") + fileExt
}

// Path returns the file the next entry would be written to.
func (l *Log) Path() string {
	return l.pathFor(l.now())
}

func (l *Log) pathFor(t time.Time) string {
	return filepath.Join(l.dir, FileName(t))
}

// Record appends one entry to the durable log and then to the in-memory view.
// The write completes before Record returns; on failure the view is left untouched.
func (l *Log) Record(message, statusSummary string) (models.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := models.LogEntry{
		Timestamp:     l.now().Truncate(time.Second),
		StatusSummary: fitColumn(sanitise(statusSummary, true), statusWidth),
		Message:       sanitise(message, false),
	}
	if err := l.appendLocked(entry); err != nil {
		return models.LogEntry{}, err
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *Log) appendLocked(entry models.LogEntry) error {
	path := l.pathFor(entry.Timestamp)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat event log: %w", err)
	}

	var b strings.Builder
	if info.Size() == 0 {
		b.WriteString(header())
		b.WriteByte('\n')
		b.WriteString(divider())
		b.WriteByte('\n')
	}
	b.WriteString(formatLine(entry))
	b.WriteByte('\n')

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("append event log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync event log: %w", err)
	}
	return nil
}

// Entries returns a copy of the in-memory view in chronological order.
func (l *Log) Entries() []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns up to n of the most recent entries.
func (l *Log) Last(n int) []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]models.LogEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// ReadFile parses a durable log. Header, divider and malformed lines are skipped.
func ReadFile(path string) ([]models.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []models.LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if entry, ok := parseLine(scanner.Text()); ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan event log: %w", err)
	}
	return entries, nil
}

// Summary renders per-target states as "name=STATE" pairs ordered by name.
func Summary(states map[string]models.State) string {
	if len(states) == 0 {
		return "no targets"
	}
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return models.NameKey(names[i]) < models.NameKey(names[j])
	})
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+states[name].Label())
	}
	return strings.Join(parts, ", ")
}

func header() string {
	return fmt.Sprintf("%-*s%s%-*s%s%s", timestampWidth, "Timestamp", columnSep, statusWidth, "Status", columnSep, "Message")
}

func divider() string {
	return strings.Repeat("-", timestampWidth) + "-+-" + strings.Repeat("-", statusWidth) + "-+-" + strings.Repeat("-", 40)
}

func formatLine(e models.LogEntry) string {
	return fmt.Sprintf("%-*s%s%-*s%s%s",
		timestampWidth, e.Timestamp.Format(timestampLayout), columnSep,
		statusWidth, e.StatusSummary, columnSep,
		e.Message)
}

func parseLine(line string) (models.LogEntry, bool) {
	parts := strings.SplitN(line, columnSep, 3)
	if len(parts) != 3 {
		return models.LogEntry{}, false
	}
	ts, err := time.ParseInLocation(timestampLayout, strings.TrimSpace(parts[0]), time.Local)
	if err != nil {
		return models.LogEntry{}, false
	}
	return models.LogEntry{
		Timestamp:     ts,
		StatusSummary: strings.TrimSpace(parts[1]),
		Message:       strings.TrimRight(parts[2], " "),
	}, true
}

// fitColumn elides s so it occupies at most width runes.
func fitColumn(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:width-utf8.RuneCountInString(elision)]), " ,") + elision
}

// sanitise keeps one entry on one line; the status column must not contain the separator.
func sanitise(s string, column bool) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(strings.TrimSpace(s))
	if column {
		s = strings.ReplaceAll(s, "|", "/")
	}
	return s
}
