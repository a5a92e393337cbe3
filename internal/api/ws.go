// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/guardctl/guardctl/internal/logging"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // any origin is accepted; the route sits behind the admin authentication and authorization middleware
}

// streamPolicyFeed upgrades an authenticated operator-console connection
// to a WebSocket and forwards every policystream.Broadcaster notification
// for the lifetime of the connection, so the console reflects a policy
// edit made from any other admin session without polling.
func (h *handlers) streamPolicyFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("api: websocket upgrade")
		return
	}
	defer conn.Close()

	consoleID := "console-" + uuid.NewString()
	sub := h.deps.PolicyFeed.Subscribe(consoleID)
	defer h.deps.PolicyFeed.Unsubscribe(consoleID)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	// A read goroutine is required even though the console never sends
	// application messages: it's the only way to observe a client-initiated
	// close or dropped connection via gorilla/websocket's API.
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
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case notif, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(notif); err != nil {
				return
			}
		}
	}
}
