package observability

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// SSEServer serves DispatchEvents to operator tooling over Server-Sent
// Events, same flusher/header/subscribe shape as the teacher's web.Server.
type SSEServer struct {
	httpServer *http.Server
	broker     *Broker
}

// NewSSEServer builds an SSEServer backed by b.
func NewSSEServer(b *Broker) *SSEServer {
	s := &SSEServer{broker: b}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events", s.handleSSE)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve starts the HTTP server on lis.
func (s *SSEServer) Serve(lis net.Listener) error {
	if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("observability: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *SSEServer) Shutdown() error {
	return s.httpServer.Close()
}

// Handler returns the HTTP handler, for tests.
func (s *SSEServer) Handler() http.Handler {
	return s.httpServer.Handler
}

type eventJSON struct {
	ID         string `json:"id"`
	Table      string `json:"table"`
	Channel    string `json:"channel"`
	StartTime  string `json:"start_time"`
	DurationMs float64 `json:"duration_ms"`
	Attempt    int    `json:"attempt"`
	Retried    bool   `json:"retried,omitempty"`
	ServerCode int32  `json:"server_code"`
	Error      string `json:"error,omitempty"`
}

func eventToJSON(ev DispatchEvent) eventJSON {
	return eventJSON{
		ID:         ev.ID,
		Table:      ev.Table,
		Channel:    ev.Channel.String(),
		StartTime:  ev.StartTime.Format(time.RFC3339Nano),
		DurationMs: float64(ev.Duration.Microseconds()) / 1000,
		Attempt:    ev.Attempt,
		Retried:    ev.Retried,
		ServerCode: ev.ServerCode,
		Error:      ev.Error,
	}
}

func (s *SSEServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch, unsub := s.broker.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(eventToJSON(ev))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
