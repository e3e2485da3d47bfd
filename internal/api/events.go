package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/marcelodevops/pyretic/internal/logging"
)

// eventHub fans out broadcast() calls to every connected /events client.
// Connections are write-only from the server's side: clients never send
// anything meaningful back, so a failed write just drops that client.
type eventHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan event
}

func newEventHub() *eventHub {
	return &eventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Demo surface only: accept any origin rather than pull in a
			// CORS policy this module has no opinion about.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan event),
	}
}

func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request, logger *logging.Logger) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("api: websocket upgrade failed", "err", err)
		return
	}

	ch := make(chan event, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		close(ch)
		conn.Close()
	}()

	// Drain incoming frames so the connection's read deadline logic (and
	// eventually a client-initiated close) is observed; this server never
	// acts on client messages.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func (h *eventHub) broadcast(ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// slow client: drop rather than block the bucket callback path
		}
	}
}
