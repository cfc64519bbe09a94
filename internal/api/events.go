package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cvrptw/internal/model"
)

// eventSnapshot carries the stored run when a stream opens.
const eventSnapshot = "run.snapshot"

const (
	heartbeatEvery = 15 * time.Second
	wsPingEvery    = 20 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// terminal reports whether evt ends a run's stream.
func terminal(evt model.Event) bool {
	return evt.Type == model.EventRunCompleted || evt.Type == model.EventRunFailed
}

// finalEvent rebuilds the terminal event of a finished run for late
// subscribers.
func finalEvent(run model.Run) model.Event {
	evt := model.Event{ID: "evt_final_" + run.ID, RunID: run.ID, TS: time.Now().UTC()}
	if run.FinishedAt != nil {
		evt.TS = *run.FinishedAt
	}
	if run.Status == model.RunSucceeded {
		evt.Type, evt.Data = model.EventRunCompleted, run.Report
		return evt
	}
	evt.Type = model.EventRunFailed
	evt.Data = map[string]any{"error": run.Error, "stages": run.Stages}
	return evt
}

func snapshotEvent(run model.Run) model.Event {
	return model.Event{ID: "evt_snapshot_" + run.ID, Type: eventSnapshot, RunID: run.ID, TS: time.Now().UTC(), Data: run}
}

// RunEventsStreamHandler handles GET /v1/runs/{id}/events/stream as
// server-sent events. The stream opens with a snapshot of the run and ends
// after its terminal event.
func (s *Server) RunEventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	// subscribe before reading the run so no event falls in between
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, r, "Run not found", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	send := func(evt model.Event) {
		b, _ := json.Marshal(evt)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	send(snapshotEvent(run))
	if run.Done() {
		send(finalEvent(run))
		return
	}

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if terminal(evt) {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"runId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// RunWSHandler handles GET /v1/runs/{id}/ws. Each run event is sent as a
// "next" message whose payload is the event; "complete" follows the
// terminal event. Clients may send "ping" (answered with "pong") and
// "complete" to stop following.
func (s *Server) RunWSHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Store.GetRun(r.Context(), id); err != nil {
		writeError(w, r, "Run not found", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var mu sync.Mutex
	write := func(msg wsMessage) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(msg)
	}
	next := func(evt model.Event) error {
		b, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		return write(wsMessage{Type: "next", ID: id, Payload: b})
	}

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			switch msg.Type {
			case "ping":
				_ = write(wsMessage{Type: "pong"})
			case "complete":
				return
			}
		}
	}()

	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		return
	}
	if err := next(snapshotEvent(run)); err != nil {
		return
	}
	if run.Done() {
		if next(finalEvent(run)) == nil {
			_ = write(wsMessage{Type: "complete", ID: id})
		}
		return
	}

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := next(evt); err != nil {
				return
			}
			if terminal(evt) {
				_ = write(wsMessage{Type: "complete", ID: id})
				return
			}
		case <-ping.C:
			mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
