package web

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const streamWriteWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	// The operator UI is served from the vehicle itself or a ground laptop.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamHandler pushes every published status snapshot to a websocket
// client as JSON text frames.
func streamHandler(status *Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		id, ch := status.Subscribe(8)
		defer status.Unsubscribe(id)

		// Inbound frames are ignored; reading surfaces the client's close.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case snap, ok := <-ch:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
						time.Now().Add(streamWriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteJSON(snap); err != nil {
					return
				}
			}
		}
	})
}
