package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Version is reported by /health
const Version = "1.0.0"

// StatsSource reports storage counters
type StatsSource interface {
	Stats() (*types.StorageStats, error)
}

// HealthChecker probes a dependency
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SystemHandler serves health and stats
type SystemHandler struct {
	stats       StatsSource
	sessions    SessionController
	transcriber HealthChecker
}

// NewSystemHandler creates a system handler. transcriber may be nil.
func NewSystemHandler(stats StatsSource, sessions SessionController, transcriber HealthChecker) *SystemHandler {
	return &SystemHandler{stats: stats, sessions: sessions, transcriber: transcriber}
}

// Health reports liveness plus the transcription endpoint's status. The
// endpoint is only probed when ?deep=true.
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":  "healthy",
		"version": Version,
		"session": h.sessions.Current().State,
	}
	if h.transcriber != nil && c.QueryBool("deep") {
		ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
		defer cancel()
		if err := h.transcriber.HealthCheck(ctx); err != nil {
			resp["status"] = "degraded"
			resp["transcription"] = err.Error()
		} else {
			resp["transcription"] = "ok"
		}
	}
	return c.JSON(resp)
}

// Stats reports storage counters
func (h *SystemHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.stats.Stats()
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(stats)
}
