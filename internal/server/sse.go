package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sseHeartbeatPeriod = 15 * time.Second

// handleEventStream serves the operator-facing broadcast feed as
// server-sent events: every decision, lifecycle change, and fleet
// stats publication, as they happen.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, events := s.broker.Subscribe()
	defer s.broker.Unsubscribe(subID)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(env)
			if err != nil {
				s.logger.Error("failed to marshal event", "type", env.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
