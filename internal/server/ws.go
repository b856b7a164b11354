package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// handleProgressWS streams progress states over a websocket. The current
// state is sent immediately, then every change until the client goes away.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	updates, cancel := s.Tracker.Subscribe()
	defer cancel()

	send := func(state any) error {
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, data)
	}

	if err := send(s.Tracker.State()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-updates:
			if err := send(state); err != nil {
				return
			}
		}
	}
}
