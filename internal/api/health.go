package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/stories/internal/catalog"
)

// HealthResponse represents the response from the health check endpoint
type HealthResponse struct {
	Status   string                 `json:"status"`
	Sessions int                    `json:"sessions"`
	Catalog  string                 `json:"catalog"`
	Time     string                 `json:"time"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

type sessionCounter interface {
	Len() int
}

type circuitReporter interface {
	State() catalog.CircuitState
	Failures() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	sessions sessionCounter
	breaker  circuitReporter
}

// NewHealthHandler creates a new health check handler. breaker may be nil.
func NewHealthHandler(sessions sessionCounter, breaker circuitReporter) *HealthHandler {
	return &HealthHandler{sessions: sessions, breaker: breaker}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	response := HealthResponse{
		Status:   "ok",
		Sessions: h.sessions.Len(),
		Catalog:  catalog.StateClosed.String(),
		Time:     time.Now().UTC().Format(time.RFC3339),
		Details:  make(map[string]interface{}),
	}

	// An open breaker means media details are failing upstream; sessions
	// still run but new items will land in the failure state
	if h.breaker != nil {
		state := h.breaker.State()
		response.Catalog = state.String()
		if state != catalog.StateClosed {
			response.Status = "degraded"
			response.Details["catalog_failures"] = h.breaker.Failures()
		}
	}

	if response.Status != "ok" {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// SetupHealthRoutes registers health check routes
func SetupHealthRoutes(apiGroup *gin.RouterGroup, sessions sessionCounter, breaker circuitReporter) {
	handler := NewHealthHandler(sessions, breaker)
	apiGroup.GET("/health", handler.Check)
}
