package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"serverwatch/internal/history"
	"serverwatch/internal/metrics"
	"serverwatch/internal/models"
	"serverwatch/internal/registry"
	"serverwatch/internal/storage"
	"serverwatch/internal/tracker"
)

const (
	defaultEventLimit = 200
	uptimeWindow      = 24 * time.Hour
)

// Engine is the monitoring core as seen by the presentation layer.
type Engine interface {
	Snapshot() []models.TargetStatus
	Target(name string) (models.TargetStatus, error)
	AddTarget(name, address string) (models.Target, error)
	StopTarget(name string) error
	Refresh() error
	Subscribe() <-chan models.Transition
	Unsubscribe(ch <-chan models.Transition)
	DroppedTransitions() int64
}

// EventSource exposes the in-memory event log.
type EventSource interface {
	Last(n int) []models.LogEntry
}

// Server wraps HTTP serving of the dashboard API.
type Server struct {
	httpServer *http.Server
	engine     Engine
	events     EventSource
	archive    storage.SampleStore
	logger     *slog.Logger
	eventLimit int
}

// New creates a configured HTTP server. archive may be nil.
func New(addr string, engine Engine, events EventSource, archive storage.SampleStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		engine:     engine,
		events:     events,
		archive:    archive,
		logger:     logger,
		eventLimit: defaultEventLimit,
	}
	s.registerRoutes(mux)
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/targets", s.handleTargets)
	mux.HandleFunc("POST /api/targets", s.handleAddTarget)
	mux.HandleFunc("GET /api/targets/{name}", s.handleTarget)
	mux.HandleFunc("POST /api/targets/{name}/stop", s.handleStopTarget)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/events/ws", s.handleEventsWS)
	mux.HandleFunc("GET /api/uptime", s.handleUptime)
	mux.HandleFunc("GET /api/timeline", s.handleTimeline)
	mux.HandleFunc("GET /api/samples/{id}", s.handleSample)
}

func (s *Server) handleTargets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	status, err := s.engine.Target(name)
	switch {
	case errors.Is(err, tracker.ErrUnknownTarget):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("get target failed", "target", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := s.engine.AddTarget(body.Name, body.Address)
	switch {
	case errors.Is(err, registry.ErrDuplicateName):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("add target failed", "target", body.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, http.StatusCreated, target)
	}
}

func (s *Server) handleStopTarget(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := s.engine.StopTarget(name)
	switch {
	case errors.Is(err, tracker.ErrUnknownTarget):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("stop target failed", "target", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Refresh(); err != nil {
		s.logger.Error("refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, s.eventLimit)
	writeJSON(w, http.StatusOK, s.events.Last(limit))
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusOK, []metrics.TargetUptime{})
		return
	}
	samples, err := s.archive.ListSamples(r.Context(), storage.ListSamplesParams{
		Target: r.URL.Query().Get("target"),
		Since:  time.Now().Add(-uptimeWindow),
	})
	if err != nil {
		s.logger.Error("list samples failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	summary := metrics.ComputeUptime(samples)
	if summary == nil {
		summary = []metrics.TargetUptime{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	sample, err := s.archive.GetSample(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "sample not found")
	case err != nil:
		s.logger.Error("get sample failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, http.StatusOK, sample)
	}
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusOK, []models.TargetTimeline{})
		return
	}
	end := time.Now().UTC()
	start := end.Add(-uptimeWindow)
	samples, err := s.archive.ListSamples(r.Context(), storage.ListSamplesParams{
		Target: r.URL.Query().Get("target"),
		Since:  start,
	})
	if err != nil {
		s.logger.Error("list samples failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	points, _ := strconv.Atoi(r.URL.Query().Get("points"))
	timelines := history.BuildTimelines(samples, start, end, points)
	if timelines == nil {
		timelines = []models.TargetTimeline{}
	}
	writeJSON(w, http.StatusOK, timelines)
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
