// Package api provides HTTP handlers for the REST API endpoints.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/stwalsh4118/stories/internal/activation"
	"github.com/stwalsh4118/stories/internal/catalog"
	"github.com/stwalsh4118/stories/internal/logger"
	"github.com/stwalsh4118/stories/internal/netquality"
	"github.com/stwalsh4118/stories/internal/overlay"
	"github.com/stwalsh4118/stories/internal/player"
	"github.com/stwalsh4118/stories/internal/session"
)

// DefaultPingInterval is used when the handler is built without one
const DefaultPingInterval = 15 * time.Second

// Intent types accepted by POST /sessions/:id/intents
const (
	IntentTogglePause = "toggle_pause"
	IntentPause       = "pause"
	IntentResume      = "resume"
	IntentSeek        = "seek"
	IntentMute        = "mute"
	IntentNavigate    = "navigate"
	IntentRetry       = "retry"
	IntentConnection  = "connection"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CreateSessionRequest represents the request body for creating a session
type CreateSessionRequest struct {
	PlaylistID    string                     `json:"playlist_id"`
	MediaID       string                     `json:"media_id"`
	ViewportWidth int                        `json:"viewport_width" binding:"gte=0"`
	Connection    *netquality.ConnectionInfo `json:"connection"`
}

// SessionResponse represents a created session
type SessionResponse struct {
	SessionID string              `json:"session_id"`
	CreatedAt time.Time           `json:"created_at"`
	Platform  netquality.Platform `json:"platform"`
	View      overlay.View        `json:"view"`
}

// SignalRequest is one viewport observation from the browser
type SignalRequest struct {
	MediaID      string  `json:"media_id"`
	Index        *int    `json:"index"`
	Intersecting bool    `json:"intersecting"`
	Ratio        float64 `json:"ratio" binding:"gte=0,lte=1"`
}

// SignalsRequest represents the request body for a batch of viewport signals
type SignalsRequest struct {
	Signals []SignalRequest `json:"signals" binding:"required,min=1,dive"`
}

// IntentRequest represents a user interaction forwarded by the browser
type IntentRequest struct {
	Type       string                     `json:"type" binding:"required,oneof=toggle_pause pause resume seek mute navigate retry connection"`
	MediaID    string                     `json:"media_id"`
	Fraction   float64                    `json:"fraction" binding:"gte=0,lte=1"`
	Delta      int                        `json:"delta"`
	Connection *netquality.ConnectionInfo `json:"connection"`
}

type sessionStore interface {
	Create(req session.CreateRequest) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Delete(id string) error
}

// SessionHandler handles widget session requests
type SessionHandler struct {
	sessions     sessionStore
	pingInterval time.Duration
	clock        clockwork.Clock
}

// NewSessionHandler creates a new session handler instance
func NewSessionHandler(sessions sessionStore, pingInterval time.Duration, clock clockwork.Clock) *SessionHandler {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionHandler{
		sessions:     sessions,
		pingInterval: pingInterval,
		clock:        clock,
	}
}

// CreateSession handles POST /api/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "Invalid request body: " + err.Error(),
			})
			return
		}
	}

	s, err := h.sessions.Create(session.CreateRequest{
		PlaylistID:      req.PlaylistID,
		MediaID:         req.MediaID,
		PriorityMediaID: c.Query("mediaid"),
		UserAgent:       c.Request.UserAgent(),
		ViewportWidth:   req.ViewportWidth,
		Connection:      req.Connection,
	})
	if err != nil {
		if errors.Is(err, catalog.ErrNoPlaylist) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "missing_feed",
				Message: "A playlist_id or media_id is required",
			})
			return
		}

		logger.Log.Error().
			Err(err).
			Str("playlist_id", req.PlaylistID).
			Str("media_id", req.MediaID).
			Msg("Failed to create session")

		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "create_failed",
			Message: "Failed to create session",
		})
		return
	}

	c.JSON(http.StatusCreated, SessionResponse{
		SessionID: s.ID,
		CreatedAt: s.CreatedAt,
		Platform:  s.Platform,
		View:      s.View(),
	})
}

// GetView handles GET /api/sessions/:id/view
func (h *SessionHandler) GetView(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// PostSignals handles POST /api/sessions/:id/signals
func (h *SessionHandler) PostSignals(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	var req SignalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	signals := make([]activation.ViewportSignal, 0, len(req.Signals))
	for _, sig := range req.Signals {
		index := -1
		if sig.Index != nil {
			index = *sig.Index
		}
		if sig.MediaID == "" && index < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_signal",
				Message: "Each signal needs a media_id or an index",
			})
			return
		}
		signals = append(signals, activation.ViewportSignal{
			ID:           sig.MediaID,
			Index:        index,
			Intersecting: sig.Intersecting,
			Ratio:        sig.Ratio,
		})
	}

	h.respond(c, s, s.Controller().Signals(signals...))
}

// PostPlayerEvent handles POST /api/sessions/:id/players/:media_id/events
func (h *SessionHandler) PostPlayerEvent(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	mediaID := c.Param("media_id")

	var ev player.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	err := s.DispatchPlayerEvent(mediaID, ev)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, session.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_event",
			Message: err.Error(),
		})
	case errors.Is(err, player.ErrUnknownHandle):
		// the handle was released while the event was in flight
		logger.Log.Debug().
			Str("session_id", s.ID).
			Str("media_id", mediaID).
			Str("event", string(ev.Kind)).
			Msg("Event for released player ignored")
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "player_not_found",
			Message: "No player is set up for this media",
		})
	default:
		logger.Log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to dispatch player event")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "dispatch_failed",
			Message: "Failed to dispatch player event",
		})
	}
}

// PostIntent handles POST /api/sessions/:id/intents
func (h *SessionHandler) PostIntent(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	var req IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctrl := s.Controller()
	needsMedia := func() bool {
		if req.MediaID == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_intent",
				Message: req.Type + " requires a media_id",
			})
			return false
		}
		if _, ok := ctrl.Snapshot().Item(req.MediaID); !ok {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "media_not_found",
				Message: "Media is not part of this session's feed",
			})
			return false
		}
		return true
	}

	var err error
	switch req.Type {
	case IntentTogglePause:
		if !needsMedia() {
			return
		}
		err = ctrl.TogglePause(req.MediaID)
	case IntentPause:
		if !needsMedia() {
			return
		}
		err = ctrl.Pause(req.MediaID)
	case IntentResume:
		if !needsMedia() {
			return
		}
		err = ctrl.Resume(req.MediaID)
	case IntentSeek:
		if !needsMedia() {
			return
		}
		err = ctrl.Seek(req.MediaID, req.Fraction)
	case IntentRetry:
		if !needsMedia() {
			return
		}
		err = ctrl.Retry(req.MediaID)
	case IntentMute:
		err = ctrl.ToggleMute()
	case IntentNavigate:
		if req.Delta == 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_intent",
				Message: "navigate requires a non-zero delta",
			})
			return
		}
		err = ctrl.Navigate(req.Delta)
	case IntentConnection:
		if req.Connection == nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_intent",
				Message: "connection requires connection info",
			})
			return
		}
		err = ctrl.UpdateConnection(req.Connection)
	}

	h.respond(c, s, err)
}

// DeleteSession handles DELETE /api/sessions/:id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Delete(id); err != nil {
		if session.IsSessionNotFound(err) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "session_not_found",
				Message: "Session not found",
			})
			return
		}
		logger.Log.Error().Err(err).Str("session_id", id).Msg("Failed to delete session")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "delete_failed",
			Message: "Failed to delete session",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) lookup(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "session_not_found",
			Message: "Session not found",
		})
		return nil, false
	}
	return s, true
}

// respond answers a controller call. Commands are applied asynchronously so
// success is 202.
func (h *SessionHandler) respond(c *gin.Context, s *session.Session, err error) {
	if err == nil {
		c.Status(http.StatusAccepted)
		return
	}
	if activation.IsControllerClosed(err) {
		c.JSON(http.StatusGone, ErrorResponse{
			Error:   "session_closed",
			Message: "Session has been closed",
		})
		return
	}
	logger.Log.Error().Err(err).Str("session_id", s.ID).Msg("Controller rejected request")
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "request_failed",
		Message: "Failed to apply request",
	})
}

// SetupSessionRoutes registers widget session routes
func SetupSessionRoutes(apiGroup *gin.RouterGroup, sessions sessionStore, pingInterval time.Duration) {
	handler := NewSessionHandler(sessions, pingInterval, nil)

	sessionGroup := apiGroup.Group("/sessions")
	sessionGroup.POST("", handler.CreateSession)
	sessionGroup.DELETE("/:id", handler.DeleteSession)
	sessionGroup.GET("/:id/events", handler.StreamEvents)
	sessionGroup.GET("/:id/view", handler.GetView)
	sessionGroup.POST("/:id/signals", handler.PostSignals)
	sessionGroup.POST("/:id/intents", handler.PostIntent)
	sessionGroup.POST("/:id/players/:media_id/events", handler.PostPlayerEvent)
}
