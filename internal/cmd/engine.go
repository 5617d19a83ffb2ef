package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"serverwatch/internal/config"
	"serverwatch/internal/eventlog"
	"serverwatch/internal/monitor"
	"serverwatch/internal/probe"
	"serverwatch/internal/registry"
	"serverwatch/internal/storage"
	"serverwatch/internal/storage/sqlite"
	"serverwatch/internal/tracker"
)

// engine bundles the components every monitoring command needs.
type engine struct {
	registry *registry.Registry
	events   *eventlog.Log
	tracker  *tracker.Tracker
	monitor  *monitor.Monitor
	archive  storage.SampleStore
}

func openEngine(ctx context.Context, cfg config.Config, logger *slog.Logger) (*engine, error) {
	reg := registry.New(cfg.RegistryPath(), logger)
	targets, err := reg.Load()
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	logger.Info("registry loaded", "path", reg.Path(), "targets", len(targets))

	events, err := eventlog.Open(cfg.LogPath(), eventlog.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	var archive storage.SampleStore
	if path := cfg.ArchivePath(); path != "" {
		store, err := sqlite.New(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		archive = store
	}

	tr := tracker.New(events, logger)
	mon := monitor.New(reg, tr, monitor.Options{
		Interval:       cfg.Interval(),
		Timeout:        cfg.Timeout(),
		MaxConcurrency: cfg.MaxConcurrency,
		Prober:         newProber(cfg),
		Archive:        archive,
		Logger:         logger,
	})
	return &engine{registry: reg, events: events, tracker: tr, monitor: mon, archive: archive}, nil
}

func newProber(cfg config.Config) probe.Prober {
	if cfg.Probe.Mode == config.ProbeModePing {
		return probe.NewPingProber(cfg.Timeout())
	}
	return probe.NewTCPProber(cfg.Probe.Ports)
}

// Close stops probing and releases the archive.
func (e *engine) Close() error {
	e.monitor.Stop()
	var errs []error
	if e.archive != nil {
		if err := e.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}
	return errors.Join(errs...)
}
