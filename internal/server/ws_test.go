package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mdsync/mdsync/internal/progress"
)

func TestProgressWebsocketStreamsUpdates(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/progress/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() progress.State {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var state progress.State
		if err := json.Unmarshal(data, &state); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		return state
	}

	// Initial snapshot arrives before any operation runs.
	if state := read(); state.Busy || state.Action != "Idle" {
		t.Errorf("initial state = %+v", state)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Tracker.RunExclusive("Fetching source", func() error {
			s.Tracker.Update("Downloading ApexClass (1/2)...", 40)
			return nil
		})
	}()
	<-done

	var actions []string
	for i := 0; i < 3; i++ {
		actions = append(actions, read().Action)
	}
	joined := strings.Join(actions, "|")
	if !strings.Contains(joined, "Fetching source") || !strings.Contains(joined, "Downloading ApexClass (1/2)...") || !strings.Contains(joined, "Idle") {
		t.Errorf("streamed actions = %v", actions)
	}
}
