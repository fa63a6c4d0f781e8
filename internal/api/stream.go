package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/stories/internal/logger"
	"github.com/stwalsh4118/stories/internal/session"
)

// PingEvent is the payload of keep-alive events
type PingEvent struct {
	Time string `json:"time"`
}

// StreamEvents handles GET /api/sessions/:id/events
// Player commands and scroll requests are sent in issue order from the
// session outbox; views are sent whenever the controller publishes a new
// snapshot, skipping intermediate ones a slow client missed. One stream per
// session is expected.
func (h *SessionHandler) StreamEvents(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	detach := s.AttachStream()
	defer detach()

	snapshots, unsubscribe := s.Controller().Subscribe()
	defer unsubscribe()

	ping := h.clock.NewTicker(h.pingInterval)
	defer ping.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	outbox := s.Outbox()
	writeOutbox := func() {
		for _, msg := range outbox.Drain() {
			c.SSEvent(msg.Event, msg.Data)
		}
	}

	writeOutbox()
	c.Writer.Flush()

	logger.Log.Debug().Str("session_id", s.ID).Msg("Event stream attached")
	defer logger.Log.Debug().Str("session_id", s.ID).Msg("Event stream detached")

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Controller().Done():
			return
		case <-outbox.Ready():
			writeOutbox()
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			// a view never precedes the commands issued before it
			writeOutbox()
			c.SSEvent(session.EventView, s.RenderView(snap))
		case now := <-ping.Chan():
			c.SSEvent(session.EventPing, PingEvent{Time: now.UTC().Format(time.RFC3339)})
		}
		c.Writer.Flush()
	}
}
