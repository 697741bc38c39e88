package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"rifa-service/internal/logger"
	"rifa-service/internal/models"
	"rifa-service/internal/sse"

	"github.com/go-chi/chi/v5"
)

// SSEHandler streams row-change events to browsers. The ticket grid holds
// one subscription on the tickets table, the admin dashboard one on the
// orders table, each for the lifetime of its view.
type SSEHandler struct {
	Emitter *sse.RowEventEmitter
	Logger  *logger.Logger
}

func NewSSEHandler(emitter *sse.RowEventEmitter, log *logger.Logger) *SSEHandler {
	return &SSEHandler{Emitter: emitter, Logger: log}
}

// HandleTableEvents streams GET /api/events/{table}. The optional ?event=
// query narrows delivery to insert or update events; the default is all.
func (h *SSEHandler) HandleTableEvents(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if table != models.TableTickets && table != models.TableOrders {
		http.Error(w, "Unknown table", http.StatusNotFound)
		return
	}

	filter := r.URL.Query().Get("event")
	switch filter {
	case "", models.EventAll, models.EventInsert, models.EventUpdate:
	default:
		http.Error(w, "Unknown event filter", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	h.setupSSEHeaders(w)

	// Subscription dies with the request context; no events are delivered
	// after the client disconnects.
	ctx := r.Context()
	eventChan := h.Emitter.Subscribe(ctx, table, filter)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"table\":\"%s\"}\n\n", table)
	flusher.Flush()

	h.Logger.LogRealtime(table, filter, "client connected")

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				h.Logger.LogRealtime(table, filter, "channel closed")
				return
			}

			jsonData, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize row event: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: row\ndata: %s\n\n", jsonData)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.LogRealtime(table, filter, "client disconnected")
			return
		}
	}
}

func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}
