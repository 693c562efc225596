package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// handleEvents streams state changes via SSE. The current state is sent
// first, then every change as it happens.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Set headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Make sure the response writer supports flushing
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	ctx := r.Context()
	s.logger.Info("SSE client connected for events")

	for _, ev := range s.snapshot() {
		s.writeEvent(w, ev)
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected")
			return

		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to marshal event for SSE", "type", ev.Type, "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.allowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.allowedOrigins, origin)
}

// handleWebSocket streams the same events as handleEvents over a WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	s.logger.Info("websocket client connected for events")

	// Read pump: clients only send control frames; a read error means gone
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev Event) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	}

	for _, ev := range s.snapshot() {
		if err := send(ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			s.logger.Info("websocket client disconnected")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := send(ev); err != nil {
				s.logger.Warn("websocket write failed", "error", err)
				return
			}
		}
	}
}
