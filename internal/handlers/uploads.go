package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// UploadQueue is the diagnostics surface of the upload queue
type UploadQueue interface {
	Pending() ([]types.UploadTask, error)
	DeadLetters() ([]types.UploadTask, error)
	Requeue(ctx context.Context, segmentID string) error
}

// UploadHandler exposes the upload queue
type UploadHandler struct {
	queue UploadQueue
	ctx   context.Context
}

// NewUploadHandler creates an upload handler. Requeued uploads run under ctx
// rather than the request's context.
func NewUploadHandler(ctx context.Context, queue UploadQueue) *UploadHandler {
	return &UploadHandler{queue: queue, ctx: ctx}
}

// Pending lists uploads still being retried
func (h *UploadHandler) Pending(c *fiber.Ctx) error {
	return h.list(c, h.queue.Pending)
}

// Dead lists uploads that exhausted their attempts
func (h *UploadHandler) Dead(c *fiber.Ctx) error {
	return h.list(c, h.queue.DeadLetters)
}

// Retry requeues a dead-lettered upload
func (h *UploadHandler) Retry(c *fiber.Ctx) error {
	id := c.Params("segmentId")
	if err := h.queue.Requeue(h.ctx, id); err != nil {
		return sendError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"segment_id": id,
		"status":     "queued",
	})
}

func (h *UploadHandler) list(c *fiber.Ctx, fn func() ([]types.UploadTask, error)) error {
	tasks, err := fn()
	if err != nil {
		return sendError(c, err)
	}
	if tasks == nil {
		tasks = []types.UploadTask{}
	}
	return c.JSON(tasks)
}
