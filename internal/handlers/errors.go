package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// sendError writes the {"error","code"} body with a status derived from the error kind
func sendError(c *fiber.Ctx, err error) error {
	status, code := statusFor(types.KindOf(err))
	if status >= fiber.StatusInternalServerError {
		slog.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func statusFor(kind types.Kind) (int, string) {
	switch kind {
	case types.KindNotFound:
		return fiber.StatusNotFound, "ERR_NOT_FOUND"
	case types.KindInvalidState:
		return fiber.StatusConflict, "ERR_INVALID_STATE"
	case types.KindDeviceUnavailable:
		return fiber.StatusServiceUnavailable, "ERR_DEVICE_UNAVAILABLE"
	case types.KindInvalidAudio:
		return fiber.StatusUnprocessableEntity, "ERR_INVALID_AUDIO"
	case types.KindTimeout:
		return fiber.StatusGatewayTimeout, "ERR_TIMEOUT"
	case types.KindTransport, types.KindRemoteRejected, types.KindMaxAttemptsExceeded:
		return fiber.StatusBadGateway, "ERR_UPSTREAM"
	default:
		return fiber.StatusInternalServerError, "ERR_INTERNAL"
	}
}
