package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vito/go-sse/sse"

	"github.com/livinlefevreloca/treeherd/internal/session"
)

// streamEvents writes session events as server-sent events until the
// client disconnects
func (s *server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.session.Subscribe(s.config.EventBuffer)
	defer unsubscribe()

	w.Header().Add("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Add("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Add("Connection", "keep-alive")
	w.Header().Add("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writer := eventWriter{responseWriter: w, responseFlusher: flusher}

	var eventID uint
	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := writer.WriteEvent(eventID, e); err != nil {
				s.logger.Info("failed to write event", "event_id", eventID, "error", err)
				return
			}
			eventID++
		}
	}
}

type eventWriter struct {
	responseWriter  io.Writer
	responseFlusher http.Flusher
}

func (writer eventWriter) WriteEvent(id uint, e session.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}

	err = sse.Event{
		ID:   fmt.Sprintf("%d", id),
		Name: string(e.Type),
		Data: payload,
	}.Write(writer.responseWriter)
	if err != nil {
		return err
	}

	writer.responseFlusher.Flush()
	return nil
}
