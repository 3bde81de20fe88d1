package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// eventWriter writes server-sent events and flushes after each one.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func canStream(w http.ResponseWriter) bool {
	_, ok := w.(http.Flusher)
	return ok
}

// newEventWriter starts the event stream. w must pass canStream.
func newEventWriter(w http.ResponseWriter) *eventWriter {
	flusher, _ := w.(http.Flusher)

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	return &eventWriter{w: w, flusher: flusher}
}

// send writes one event. An empty name writes a bare data line.
func (e *eventWriter) send(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(errorResponse{Error: err.Error(), Type: "internal"})
		name = "error"
	}
	if name != "" {
		fmt.Fprintf(e.w, "event: %s\n", name)
	}
	fmt.Fprintf(e.w, "data: %s\n\n", data)
	e.flusher.Flush()
}
