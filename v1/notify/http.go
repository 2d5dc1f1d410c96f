package notify

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// SSEHandler streams a channel's messages over Server-Sent Events.
// The channel name is taken from the "channel" query parameter.
// Messages arriving faster than the client drains are dropped, keeping
// the at-most-once contract.
func SSEHandler(n Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel")
		if channel == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}

		msgs := make(chan []byte, 16)
		unsubscribe, err := n.Subscribe(r.Context(), channel, func(_ string, payload []byte) {
			select {
			case msgs <- payload:
			default:
			}
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		for {
			select {
			case payload := <-msgs:
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{}

// WebSocketHandler streams a channel's messages over WebSocket.
// The channel name is taken from the "channel" query parameter.
func WebSocketHandler(n Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel")
		if channel == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msgs := make(chan []byte, 16)
		unsubscribe, err := n.Subscribe(r.Context(), channel, func(_ string, payload []byte) {
			select {
			case msgs <- payload:
			default:
			}
		})
		if err != nil {
			return
		}
		defer unsubscribe()

		for {
			select {
			case payload := <-msgs:
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}
