package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chadiek/agent-playground/internal/playground"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamMessage is one websocket frame. Type is "view" or "conversation".
type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// stream pushes every new View to the client, followed by the conversation
// whenever it grew. Clients only read; anything they send is discarded.
func (s *Server) stream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", zap.Error(err))
		return nil
	}
	views, cancel := s.ctrl.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go readPump(conn, gone)
	s.writePump(conn, views, gone)
	return nil
}

// readPump drains the connection so pongs and close frames get processed.
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, views <-chan playground.View, gone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	sent := -1
	for {
		select {
		case v, ok := <-views:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := write(conn, streamMessage{Type: "view", Data: v}); err != nil {
				return
			}
			entries := entriesOf(s.ctrl)
			if len(entries) == sent {
				continue
			}
			sent = len(entries)
			if err := write(conn, streamMessage{Type: "conversation", Data: entries}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func write(conn *websocket.Conn, m streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}
