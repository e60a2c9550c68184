package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultHeartbeat = 15 * time.Second

// EventSource delivers published action events as raw JSON payloads
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// WithEventSource enables GET /api/v1/actions/stream
func (h *AuditHandler) WithEventSource(source EventSource, heartbeat time.Duration) *AuditHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	h.events = source
	h.heartbeat = heartbeat
	return h
}

// StreamActions relays the action feed as server-sent events
func (h *AuditHandler) StreamActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events, err := h.events.Subscribe(ctx)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "feed_unavailable", "Action feed unavailable")
		return
	}

	rc := http.NewResponseController(w)
	// streams outlive the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			var head struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(payload, &head); err != nil || head.Type == "" {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, payload)
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
