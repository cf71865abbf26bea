package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const socketWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleJobSocket pushes every ingest result to the client as a JSON text
// message until either side goes away.
func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "no ingest pipeline running", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()

	// reads only detect the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "pipeline stopped"),
					time.Now().Add(socketWriteWait))
				return
			}
			payload, err := json.Marshal(res)
			if err != nil {
				s.log.Error("failed to encode result", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
