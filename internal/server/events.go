package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"serverwatch/internal/models"
)

const (
	eventsPushInterval = 30 * time.Second
	eventsWriteTimeout = 5 * time.Second

	messageSnapshot   = "snapshot"
	messageTransition = "transition"
)

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// eventMessage is pushed to websocket clients. Snapshots carry Targets,
// transitions carry Transition.
type eventMessage struct {
	Type        string                `json:"type"`
	GeneratedAt time.Time             `json:"generated_at"`
	Targets     []models.TargetStatus `json:"targets,omitempty"`
	Transition  *models.Transition    `json:"transition,omitempty"`

	// Dropped counts transitions lost to slow subscribers since startup.
	Dropped int64 `json:"dropped_transitions,omitempty"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	s.serveEventsConnection(conn)
}

func (s *Server) serveEventsConnection(conn *websocket.Conn) {
	defer conn.Close()

	transitions := s.engine.Subscribe()
	defer s.engine.Unsubscribe(transitions)

	if err := writeEvent(conn, s.snapshotMessage()); err != nil {
		return
	}

	ticker := time.NewTicker(eventsPushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			msg := eventMessage{Type: messageTransition, GeneratedAt: time.Now().UTC(), Transition: &tr}
			if err := writeEvent(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := writeEvent(conn, s.snapshotMessage()); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) snapshotMessage() eventMessage {
	return eventMessage{
		Type:        messageSnapshot,
		GeneratedAt: time.Now().UTC(),
		Targets:     s.engine.Snapshot(),
		Dropped:     s.engine.DroppedTransitions(),
	}
}

func writeEvent(conn *websocket.Conn, payload eventMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
	return conn.WriteJSON(payload)
}
