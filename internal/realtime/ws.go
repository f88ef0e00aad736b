package realtime

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API sits behind its own auth; origin filtering happens upstream.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn adapts a gorilla websocket to the hub's Conn interface. Writes are
// serialized: gorilla permits only one concurrent writer.
type wsConn struct {
	id   string
	sock *websocket.Conn

	mu sync.Mutex
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	return c.sock.Close()
}

// Handler upgrades an HTTP request to a websocket and pumps inbound
// messages into the hub until the client goes away.
func Handler(hub *Hub, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		sock, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logger.Warn("Websocket upgrade failed", zap.Error(err))
			return nil
		}

		conn := &wsConn{id: uuid.NewString(), sock: sock}
		hub.Register(conn)
		defer hub.Unregister(conn.ID())

		for {
			_, raw, err := sock.ReadMessage()
			if err != nil {
				return nil
			}
			hub.HandleMessage(conn.ID(), raw)
		}
	}
}
