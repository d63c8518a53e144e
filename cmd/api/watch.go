package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/stream"
)

const (
	watchWriteWait = 10 * time.Second
	watchPongWait  = 60 * time.Second
	watchPingEvery = (watchPongWait * 9) / 10
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleWatchWS mirrors a live run's stream to a WebSocket watcher at
// /api/watch/{runId}. The socket closes after the run's terminal event.
func (s *apiServer) handleWatchWS(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/api/watch/")
	if runID == "" || strings.Contains(runID, "/") {
		http.Error(w, "run id required", http.StatusBadRequest)
		return
	}

	events, cancel := s.broker.Subscribe(runID)
	defer cancel()

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(watchPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})

	// Reader goroutine only services control frames and detects close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run closed"),
					time.Now().Add(watchWriteWait))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if stream.IsTerminal(ev.Type) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"),
					time.Now().Add(watchWriteWait))
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
