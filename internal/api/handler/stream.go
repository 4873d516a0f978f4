package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	streamWriteWait    = 10 * time.Second
	streamPingInterval = 30 * time.Second
	// streamMinInterval coalesces bursts of page events into one frame.
	streamMinInterval = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewStreamHandler returns GET /api/v1/tasks/{id}/stream. The socket receives
// a progress frame on every change, throttled, and is closed once the task
// reaches a terminal state.
func NewStreamHandler(tasks Tasks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		updates, unsubscribe, err := tasks.Subscribe(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer unsubscribe()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "task_id", id, "error", err)
			return
		}
		defer conn.Close()

		// The read loop only notices the client going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						slog.Debug("websocket read failed", "task_id", id, "error", err)
					}
					return
				}
			}
		}()

		limiter := rate.NewLimiter(rate.Every(streamMinInterval), 1)
		ping := time.NewTicker(streamPingInterval)
		defer ping.Stop()

		for {
			snap, err := tasks.Progress(id)
			if err != nil {
				closeStream(conn, websocket.CloseGoingAway, "task removed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(streamMessage{Type: "progress", Data: snap}); err != nil {
				return
			}
			if snap.Status.Terminal() {
				closeStream(conn, websocket.CloseNormalClosure, string(snap.Status))
				return
			}

			select {
			case <-updates:
				if err := limiter.Wait(r.Context()); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-gone:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

func closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
