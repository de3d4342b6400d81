package api

import (
	"log"
	"net/http"
	"time"

	"options-core/internal/events"
	"options-core/pkg/coord"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsEnvelope is the wire frame sent to websocket clients.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleWebSocket streams session updates, placements, settlements,
// risk alerts and log lines to the client until it disconnects. An
// optional ?account= query narrows the stream to one session.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	account := coord.NormalizeAccount(c.Query("account"))
	subscribe := func(e events.Event, buffer int) (<-chan any, func()) {
		if account != "" {
			return s.Bus.SubscribeAccount(e, account, buffer)
		}
		return s.Bus.Subscribe(e, buffer)
	}

	updates, unsubUpdates := subscribe(events.EventSessionUpdate, 64)
	defer unsubUpdates()
	placed, unsubPlaced := subscribe(events.EventTradePlaced, 64)
	defer unsubPlaced()
	settled, unsubSettled := subscribe(events.EventTradeSettled, 64)
	defer unsubSettled()
	alerts, unsubAlerts := subscribe(events.EventRiskAlert, 64)
	defer unsubAlerts()
	logs, unsubLogs := subscribe(events.EventSessionLog, 256)
	defer unsubLogs()

	// Reader goroutine detects client disconnects. Incoming frames are
	// discarded; the stream is one-way.
	done := make(chan struct{})
	go func() {
		defer close(done)
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
		case <-done:
			return
		case payload := <-updates:
			if s.writeEvent(conn, "session_update", payload) != nil {
				return
			}
		case payload := <-placed:
			if s.writeEvent(conn, "trade_placed", payload) != nil {
				return
			}
		case payload := <-settled:
			if s.writeEvent(conn, "trade_settled", payload) != nil {
				return
			}
		case payload := <-alerts:
			if s.writeEvent(conn, "risk_alert", payload) != nil {
				return
			}
		case payload := <-logs:
			if s.writeEvent(conn, "session_log", payload) != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, eventType string, payload any) error {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(wsEnvelope{Type: eventType, Data: payload}); err != nil {
		log.Printf("[WS] Write failed: %v", err)
		return err
	}
	return nil
}
