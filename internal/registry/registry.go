// Package registry owns the durable set of monitored targets.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"serverwatch/internal/models"
)

var (
	// ErrDuplicateName is returned when a target with the same case-insensitive name exists.
	ErrDuplicateName = errors.New("duplicate target name")
	// ErrInvalidTarget is returned when name or address is blank.
	ErrInvalidTarget = errors.New("name and address are required")
)

// entry is the on-disk value stored under the lower-cased target name.
type entry struct {
	Name string `json:"name,omitempty"`
	IP   string `json:"ip"`
}

// Registry handles the target document on disk and the in-memory snapshot of it.
type Registry struct {
	mu      sync.RWMutex
	path    string
	logger  *slog.Logger
	targets map[string]models.Target
}

// New creates a registry bound to path. Call Load to populate it.
func New(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		path:    path,
		logger:  logger,
		targets: make(map[string]models.Target),
	}
}

// Path returns the registry document location.
func (r *Registry) Path() string {
	return r.path
}

// Load replaces the in-memory snapshot with the document on disk.
// A missing document is created empty. Unreadable or malformed content yields an
// empty registry; the only error reported is a failure to create a missing file.
func (r *Registry) Load() ([]models.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		r.targets = make(map[string]models.Target)
		if err := r.persistLocked(r.targets); err != nil {
			return nil, fmt.Errorf("create registry: %w", err)
		}
		return nil, nil
	case err != nil:
		r.logger.Warn("registry unreadable, continuing with no targets", "path", r.path, "error", err)
		r.targets = make(map[string]models.Target)
		return nil, nil
	}

	r.targets = r.decode(data)
	return r.sortedLocked(), nil
}

func (r *Registry) decode(data []byte) map[string]models.Target {
	targets := make(map[string]models.Target)
	if len(strings.TrimSpace(string(data))) == 0 {
		return targets
	}

	var doc map[string]entry
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Warn("registry malformed, continuing with no targets", "path", r.path, "error", err)
		return targets
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		e := doc[k]
		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = strings.TrimSpace(k)
		}
		target := models.Target{Name: name, Address: strings.TrimSpace(e.IP)}
		if target.Key() == "" || target.Address == "" {
			r.logger.Warn("skipping incomplete registry entry", "key", k)
			continue
		}
		if _, exists := targets[target.Key()]; exists {
			r.logger.Warn("skipping duplicate registry entry", "key", k)
			continue
		}
		targets[target.Key()] = target
	}
	return targets
}

// Add stores a new target and persists the whole registry before returning.
// The in-memory snapshot only changes when the write succeeds.
func (r *Registry) Add(name, address string) (models.Target, error) {
	target := models.Target{
		Name:    strings.TrimSpace(name),
		Address: strings.TrimSpace(address),
	}
	if target.Name == "" || target.Address == "" {
		return models.Target{}, ErrInvalidTarget
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.targets[target.Key()]; ok {
		return models.Target{}, fmt.Errorf("%w: %q already registered as %q", ErrDuplicateName, target.Name, existing.Name)
	}

	next := make(map[string]models.Target, len(r.targets)+1)
	for k, v := range r.targets {
		next[k] = v
	}
	next[target.Key()] = target

	if err := r.persistLocked(next); err != nil {
		return models.Target{}, err
	}
	r.targets = next
	r.logger.Info("target registered", "target", target.Name, "address", target.Address)
	return target, nil
}

// Get looks a target up by case-insensitive name.
func (r *Registry) Get(name string) (models.Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.targets[models.NameKey(name)]
	return t, ok
}

// List returns the in-memory snapshot ordered by name. It never re-reads the file.
func (r *Registry) List() []models.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *Registry) sortedLocked() []models.Target {
	if len(r.targets) == 0 {
		return nil
	}
	out := make([]models.Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out
}

func (r *Registry) persistLocked(targets map[string]models.Target) error {
	doc := make(map[string]entry, len(targets))
	for k, t := range targets {
		doc[k] = entry{Name: t.Name, IP: t.Address}
	}
	bytes, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(bytes); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("replace registry file: %w", err)
	}
	return nil
}
