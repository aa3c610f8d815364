// Package api serves a read-only status view of the queue. Enqueueing is
// deliberately absent: producers are the channel adapters and the heartbeat
// trigger, and their only interface is the incoming directory.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/btquang/promptrelay/internal/queue"
)

// Dependencies holds everything the status handlers need
type Dependencies struct {
	Logger  *slog.Logger
	Store   *queue.Store
	AppName string
	// StartedAt reports coordinator start time for the uptime field
	StartedAt func() time.Time
}

// StatusHandler handles status HTTP requests
type StatusHandler struct {
	logger    *slog.Logger
	store     *queue.Store
	startedAt func() time.Time
}

// NewStatusHandler creates a StatusHandler instance
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	return &StatusHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		startedAt: deps.StartedAt,
	}
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.AppName,
		})
	})

	statusHandler := NewStatusHandler(deps)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/queue/stats", statusHandler.QueueStats)
	}

	return r
}

// QueueStats handles GET /api/v1/queue/stats
func (h *StatusHandler) QueueStats(c *gin.Context) {
	depths, err := h.store.Depths()
	if err != nil {
		h.logger.Error("Failed to read queue depths", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read queue depths",
		})
		return
	}

	resp := gin.H{
		"queue":           depths,
		"reset_requested": h.store.ResetRequested(),
	}
	if h.startedAt != nil {
		if started := h.startedAt(); !started.IsZero() {
			resp["uptime_seconds"] = int64(time.Since(started).Seconds())
		}
	}

	c.JSON(http.StatusOK, resp)
}

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
