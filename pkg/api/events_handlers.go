package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/cuemby/hutch/pkg/errors"
)

// handleEvents streams control-plane events over SSE until the client
// disconnects. Each event goes out as `event: <type>` with a JSON body.
// Keepalive comments hold idle connections open through proxies.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, apperrors.New(apperrors.KindInternal, "streaming unsupported"))
		return
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			body, err := json.Marshal(event)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, body)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
