package handlers

import (
	"bytes"
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meetcap/internal/storage"
)

// BackupStore dumps and restores the metadata database
type BackupStore interface {
	Export(w io.Writer) error
	Import(r io.Reader) (*storage.ImportResult, error)
}

// BackupHandler serves /export and /import
type BackupHandler struct {
	store BackupStore
}

// NewBackupHandler creates a backup handler
func NewBackupHandler(store BackupStore) *BackupHandler {
	return &BackupHandler{store: store}
}

// Export downloads every meeting, segment and upload task as JSON
func (h *BackupHandler) Export(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := h.store.Export(&buf); err != nil {
		return sendError(c, err)
	}
	c.Attachment("meetcap-export.json")
	return c.Send(buf.Bytes())
}

// Import restores a document produced by Export. Existing rows are kept.
func (h *BackupHandler) Import(c *fiber.Ctx) error {
	res, err := h.store.Import(bytes.NewReader(c.Body()))
	if errors.Is(err, storage.ErrInvalidSnapshot) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_INVALID_BODY",
		})
	}
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(res)
}
