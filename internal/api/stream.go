package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
)

// streamEvents relays progress for a session as server-sent events and ends
// with a completed or failed event. Runs in another process (a Temporal
// worker) publish nothing here, so the store is polled for the final status.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	var updates <-chan events.ProgressEvent
	if s.broker != nil {
		updates = s.broker.Subscribe(ctx, session.ID)
	}
	// re-read after subscribing so a completion between the two reads is seen
	if current, err := s.store.GetSession(ctx, session.ID); err == nil && current != nil && current.Terminal() {
		sendSSE(w, terminalEvent(*current, s.now()))
		flusher.Flush()
		return
	}

	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-updates:
			if !ok {
				return
			}
			sendSSE(w, event)
			flusher.Flush()
			if event.Terminal() {
				return
			}
		case <-poll.C:
			current, err := s.store.GetSession(ctx, session.ID)
			if err != nil || current == nil {
				return
			}
			if current.Terminal() {
				sendSSE(w, terminalEvent(*current, s.now()))
				flusher.Flush()
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func terminalEvent(session store.Session, now time.Time) events.ProgressEvent {
	event := events.ProgressEvent{SessionID: session.ID, Timestamp: now.UTC()}
	if session.Status == store.StatusFailed {
		event.Stage = events.StageFailed
		event.Message = session.Error
		return event
	}
	event.Stage = events.StageCompleted
	event.Message = "Research complete"
	return event
}

func sendSSE(w http.ResponseWriter, event events.ProgressEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.SessionID, event.Seq)
	fmt.Fprintf(w, "event: %s\n", event.Stage)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
