package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meetcap/internal/session"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// SessionController is the recording control surface
type SessionController interface {
	StartSession(ctx context.Context, title string) (session.Status, error)
	PauseSession() (session.Status, error)
	ResumeSession() (session.Status, error)
	StopSession(ctx context.Context) (*types.MeetingRecord, error)
	Current() session.Status
}

// SessionHandler exposes recording control over HTTP
type SessionHandler struct {
	ctrl SessionController
}

// NewSessionHandler creates a session handler
func NewSessionHandler(ctrl SessionController) *SessionHandler {
	return &SessionHandler{ctrl: ctrl}
}

// StartRequest is the optional body of POST /sessions/start
type StartRequest struct {
	Title string `json:"title"`
}

// Start begins a recording
func (h *SessionHandler) Start(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
				"code":  "ERR_INVALID_BODY",
			})
		}
	}
	if len(req.Title) > 200 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title too long (max 200 characters)",
			"code":  "ERR_INVALID_TITLE",
		})
	}

	st, err := h.ctrl.StartSession(c.UserContext(), req.Title)
	if err != nil {
		return sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(st)
}

// Pause pauses the recording
func (h *SessionHandler) Pause(c *fiber.Ctx) error {
	st, err := h.ctrl.PauseSession()
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(st)
}

// Resume resumes the recording
func (h *SessionHandler) Resume(c *fiber.Ctx) error {
	st, err := h.ctrl.ResumeSession()
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(st)
}

// Stop ends the recording and returns the assembled meeting
func (h *SessionHandler) Stop(c *fiber.Ctx) error {
	rec, err := h.ctrl.StopSession(c.UserContext())
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(rec)
}

// Current reports the session state
func (h *SessionHandler) Current(c *fiber.Ctx) error {
	return c.JSON(h.ctrl.Current())
}
