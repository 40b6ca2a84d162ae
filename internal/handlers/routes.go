// Package handlers serves the daemon's HTTP and WebSocket API.
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Routes groups the handlers mounted by the daemon. Nil handlers are skipped.
type Routes struct {
	Sessions *SessionHandler
	Meetings *MeetingHandler
	Uploads  *UploadHandler
	System   *SystemHandler
	Backup   *BackupHandler
	Stream   *StreamHandler
}

// Mount registers every route on app
func (r Routes) Mount(app *fiber.App) {
	if r.System != nil {
		app.Get("/health", r.System.Health)
		app.Get("/stats", r.System.Stats)
	}

	if r.Backup != nil {
		app.Get("/export", r.Backup.Export)
		app.Post("/import", r.Backup.Import)
	}

	if r.Sessions != nil {
		s := app.Group("/sessions")
		s.Post("/start", r.Sessions.Start)
		s.Post("/pause", r.Sessions.Pause)
		s.Post("/resume", r.Sessions.Resume)
		s.Post("/stop", r.Sessions.Stop)
		s.Get("/current", r.Sessions.Current)
	}

	if r.Meetings != nil {
		m := app.Group("/meetings")
		m.Get("/", r.Meetings.List)
		m.Get("/:id", r.Meetings.Get)
		m.Get("/:id/transcript", r.Meetings.Transcript)
		m.Post("/:id/reassemble", r.Meetings.Reassemble)
	}

	if r.Uploads != nil {
		u := app.Group("/uploads")
		u.Get("/", r.Uploads.Pending)
		u.Get("/dead", r.Uploads.Dead)
		u.Post("/:segmentId/retry", r.Uploads.Retry)
	}

	if r.Stream != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/events", websocket.New(r.Stream.Handle))
	}
}
