package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
)

// streamEvents renders workflow events as server-sent events. Each event uses
// its type as the SSE event name with a JSON payload; the stream ends with a
// terminal done, interrupt or error event followed by [DONE].
func (rt *Router) streamEvents(w http.ResponseWriter, events <-chan domain.WorkflowEvent) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	outcome := "disconnected"
	for event := range events {
		payload, err := marshalEvent(event)
		if err != nil {
			break
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
			break
		}
		flusher.Flush()
		rt.observeEvent(event, &outcome)
	}

	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()

	if rt.metrics != nil {
		rt.metrics.RecordTurn(rt.cfg.Service, outcome, time.Since(start))
	}
}

func marshalEvent(event domain.WorkflowEvent) ([]byte, error) {
	switch event.Type {
	case domain.EventToken:
		return json.Marshal(map[string]string{"content": event.Token})
	case domain.EventStatus:
		return json.Marshal(map[string]string{"node": string(event.Node)})
	case domain.EventInterrupt:
		return json.Marshal(event.Interrupt)
	case domain.EventDone:
		return json.Marshal(map[string]any{
			"answer":    event.Answer,
			"sources":   event.Sources,
			"cancelled": event.Cancelled,
		})
	case domain.EventError:
		return json.Marshal(map[string]string{
			"kind":    event.ErrKind,
			"message": event.ErrMsg,
		})
	default:
		return json.Marshal(map[string]string{})
	}
}

func (rt *Router) observeEvent(event domain.WorkflowEvent, outcome *string) {
	switch event.Type {
	case domain.EventStatus:
		if rt.metrics != nil {
			rt.metrics.RecordNodeVisit(rt.cfg.Service, string(event.Node))
		}
	case domain.EventInterrupt:
		*outcome = "suspended"
		if rt.metrics != nil {
			rt.metrics.RecordInterrupt(rt.cfg.Service)
		}
	case domain.EventDone:
		if event.Cancelled {
			*outcome = "cancelled"
		} else {
			*outcome = "completed"
		}
	case domain.EventError:
		*outcome = "error"
	}
}
