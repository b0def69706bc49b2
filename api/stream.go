package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleStream is the SSE endpoint. One writer loop per connection
// drains the subscriber's queue; the publisher never writes to the
// network itself.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	if _, err := s.manager.Engine(r.Context(), project); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := s.publisher.AddClient(project)
	defer s.publisher.RemoveClient(client)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done():
			return
		case msg := <-client.Messages():
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Error("failed to marshal stream message", "client", client.ID(), "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
