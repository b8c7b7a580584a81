package web

import (
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"

	"zigbee-efekta/internal/coordinator"
)

const sseStream = "events"

func newEventStream() *sse.Server {
	srv := sse.New()
	srv.AutoReplay = false
	srv.AutoStream = false
	srv.CreateStream(sseStream)
	return srv
}

// publishSSE forwards an event to EventSource clients. The SSE event name is
// the coordinator event type.
func (s *Server) publishSSE(event coordinator.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("sse marshal", "type", event.Type, "err", err)
		return
	}
	s.sse.Publish(sseStream, &sse.Event{
		ID:    []byte(event.ID),
		Event: []byte(event.Type),
		Data:  data,
	})
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	q.Set("stream", sseStream)
	r.URL.RawQuery = q.Encode()
	s.sse.ServeHTTP(w, r)
}
