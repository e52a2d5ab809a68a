package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dexcore/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Loopback-only server; the surface connects from the same host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the push-side envelope: the bus topic as type.
type wsFrame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// handleWebsocket streams every bus topic to the surface.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️ Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(256,
		events.TopicNotification, events.TopicBalance, events.TopicPool,
		events.TopicTrade, events.TopicPnl, events.TopicGas,
		events.TopicConnection, events.TopicLog, events.TopicConfig,
	)
	defer s.bus.Unsubscribe(sub)

	// Reader goroutine: only to detect the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case msg, open := <-sub:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(wsFrame{
				Type:      string(msg.Topic),
				Data:      msg.Data,
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
