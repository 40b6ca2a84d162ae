package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// MeetingStore lists meetings
type MeetingStore interface {
	ListMeetings(limit int) ([]types.Meeting, error)
}

// MeetingAssembler loads and rebuilds meeting records
type MeetingAssembler interface {
	Record(meetingID string) (*types.MeetingRecord, error)
	Reassemble(ctx context.Context, meetingID string) (*types.MeetingRecord, error)
}

// MeetingHandler serves meetings and their transcripts
type MeetingHandler struct {
	store MeetingStore
	asm   MeetingAssembler
}

// NewMeetingHandler creates a meeting handler
func NewMeetingHandler(store MeetingStore, asm MeetingAssembler) *MeetingHandler {
	return &MeetingHandler{store: store, asm: asm}
}

// List returns recent meetings, newest first
func (h *MeetingHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 500",
			"code":  "ERR_INVALID_LIMIT",
		})
	}
	meetings, err := h.store.ListMeetings(limit)
	if err != nil {
		return sendError(c, err)
	}
	if meetings == nil {
		meetings = []types.Meeting{}
	}
	return c.JSON(meetings)
}

// Get returns a meeting with its segments
func (h *MeetingHandler) Get(c *fiber.Ctx) error {
	rec, err := h.asm.Record(c.Params("id"))
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(rec)
}

// Transcript returns the assembled transcript as plain text
func (h *MeetingHandler) Transcript(c *fiber.Ctx) error {
	rec, err := h.asm.Record(c.Params("id"))
	if err != nil {
		return sendError(c, err)
	}
	return c.SendString(rec.Transcript)
}

// Reassemble rebuilds the transcript from the current segment state
func (h *MeetingHandler) Reassemble(c *fiber.Ctx) error {
	rec, err := h.asm.Reassemble(c.UserContext(), c.Params("id"))
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(rec)
}
