package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pollrooms/backend/internal/models"
	"github.com/pollrooms/backend/internal/store"
	"github.com/pollrooms/backend/pkg/response"
)

// HeartbeatInterval is how long a live-update session stays idle before
// sending a no-op ping to keep intermediaries from closing the stream.
const HeartbeatInterval = 25 * time.Second

// ServeSSE handles GET /api/polls/:id/events. The session sends the
// current snapshot immediately, then one event per broadcast until the
// client disconnects or the hub prunes its mailbox.
func ServeSSE(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return serveSSE(hub, logger, HeartbeatInterval)
}

func serveSSE(hub *Hub, logger *zap.Logger, heartbeat time.Duration) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		pollID := c.Param("id")
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
		defer hub.Unsubscribe(sub)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)

		if err := writeSnapshotEvent(c.Writer, first); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		ctx := c.Request.Context()

		for {
			select {
			case snap, ok := <-sub.Updates():
				if !ok {
					// mailbox overflowed and was pruned by the hub
					return
				}
				if err := writeSnapshotEvent(c.Writer, snap); err != nil {
					return
				}
				ticker.Reset(heartbeat)
			case <-ticker.C:
				if _, err := fmt.Fprint(c.Writer, "event: ping\ndata: {}\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			case <-ctx.Done():
				return
			}
		}
	}
}

func writeSnapshotEvent(w gin.ResponseWriter, snap *models.PollSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return err
	}
	w.Flush()
	return nil
}
