package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/finfiles/finfiles/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; restrict in production
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// WSMessage is the wire frame for WebSocket streaming.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// handleWebSocket upgrades the connection and streams filings matching
// the filter parameters carried in the query string. The subscription
// stays open until the client unsubscribes, the subscriber saturates,
// or the hub shuts down; the final frame names the close reason.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	spec, err := specFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	sub := s.hub.Subscribe(spec)
	go s.wsWritePump(conn, sub)
	go s.wsReadPump(conn, sub)
}

// wsReadPump consumes client frames: pongs keep the connection alive,
// an unsubscribe frame starts draining.
func (s *Server) wsReadPump(conn *websocket.Conn, sub *hub.Subscription) {
	defer func() {
		s.hub.Unsubscribe(sub.ID)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "unsubscribe" {
			s.hub.Unsubscribe(sub.ID)
		}
	}
}

// wsWritePump forwards deliveries to the peer in admission order. When
// the subscription's channel closes, buffered deliveries have already
// been flushed by the range; the closing frame reports why.
func (s *Server) wsWritePump(conn *websocket.Conn, sub *hub.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	deliveries := sub.C()
	for {
		select {
		case d, ok := <-deliveries:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				closing := WSMessage{
					Type: "closed",
					Data: map[string]string{"reason": string(sub.Reason())},
				}
				if data, err := json.Marshal(closing); err == nil {
					_ = conn.WriteMessage(websocket.TextMessage, data)
				}
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(sub.Reason())))
				return
			}

			data, err := json.Marshal(WSMessage{Type: "filing", Data: d})
			if err != nil {
				log.Printf("WebSocket marshal error: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
