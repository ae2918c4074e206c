package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pollrooms/backend/internal/models"
	"github.com/pollrooms/backend/internal/store"
	"github.com/pollrooms/backend/pkg/response"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope. Snapshot broadcasts use
// event "poll_update".
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wsClient is one WebSocket live-update session.
type wsClient struct {
	sub    *Subscription
	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger
}

// ServeWS handles GET /ws?poll_id=. It delivers the same snapshot
// stream as the SSE endpoint, wrapped in the WSMessage envelope.
func ServeWS(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		pollID := c.Query("poll_id")
		if pollID == "" {
			response.BadRequest(c, "poll_id required")
			return
		}

		sub, first, err := hub.Subscribe(c.Request.Context(), pollID)
		if err != nil {
			if errors.Is(err, store.ErrPollNotFound) {
				response.NotFound(c, "poll not found")
				return
			}
			logger.Error("subscribe failed", zap.String("poll_id", pollID), zap.Error(err))
			response.Internal(c, "failed to subscribe")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.Unsubscribe(sub)
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &wsClient{sub: sub, hub: hub, conn: conn, logger: logger}
		go client.writePump(first)
		client.readPump()
	}
}

// readPump discards inbound frames; the stream is one-way. It exists to
// notice the client going away and to answer protocol pings.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump(first *models.PollSnapshot) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer func() {
		ticker.Stop()
		// unblocks readPump's pending read, so the session is torn
		// down immediately rather than after the read deadline
		_ = c.conn.Close()
	}()

	if err := c.writeSnapshot(first); err != nil {
		return
	}
	for {
		select {
		case snap, ok := <-c.sub.Updates():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeSnapshot(snap); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) writeSnapshot(snap *models.PollSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(WSMessage{Event: "poll_update", Data: body})
}
