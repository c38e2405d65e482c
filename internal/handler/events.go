package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	eventBuffer       = 32
	heartbeatInterval = 25 * time.Second
)

// Events streams bus events as server-sent events until the client leaves.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server write timeout would cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	events, cancel := h.bus.Subscribe(eventBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.log.Warnf("Event stream cannot flush: %v", err)
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.log.Errorf("Failed to encode event %s: %v", e.Type, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
