package stream

import (
	"encoding/json"
	"log"
	"net/http"
)

// HTTPHandler serves band frames as newline-delimited JSON, one frame per line.
type HTTPHandler struct {
	broadcaster *Broadcaster
}

// NewHTTPHandler creates an HTTP band stream handler.
func NewHTTPHandler(b *Broadcaster) *HTTPHandler {
	return &HTTPHandler{broadcaster: b}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	log.Printf("Band viewer connected (total: %d)", h.broadcaster.ListenerCount())
	defer log.Println("Band viewer disconnected")

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-listener.done:
			return
		case frame := <-listener.C:
			if err := enc.Encode(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
