package wshub

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/airmesh/aqpipeline/internal/logger"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a websocket, registers a subscriber,
// and runs its write pump until the connection closes. Ping/pong
// keep-alive mirrors the original prototype's websocket_manager.
func ServeWS(hub *Hub, log zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := logger.NewID()
	sub := hub.Register(r.Context(), id)

	go readPump(conn, hub, sub, log)
	writePump(conn, sub, log)
}

// readPump answers a client "ping" text frame with a typed pong frame
// and otherwise only drains the connection so a close is detected
// within pongWait instead of hanging forever.
func readPump(conn *websocket.Conn, hub *Hub, sub *Subscriber, log zerolog.Logger) {
	defer func() {
		hub.Unregister(sub.id)
		_ = conn.Close()
	}()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		msgType, body, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.TextMessage && strings.TrimSpace(string(body)) == "ping" {
			hub.Pong(sub)
		}
	}
}

func writePump(conn *websocket.Conn, sub *Subscriber, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case body, ok := <-sub.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
