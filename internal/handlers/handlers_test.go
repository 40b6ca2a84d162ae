package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/meetcap/internal/events"
	"github.com/codebuildervaibhav/meetcap/internal/session"
	"github.com/codebuildervaibhav/meetcap/internal/storage"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

type fakeController struct {
	state    types.SessionState
	startErr error
	title    string
}

func (f *fakeController) StartSession(_ context.Context, title string) (session.Status, error) {
	if f.startErr != nil {
		return session.Status{}, f.startErr
	}
	if f.state == types.StateActive {
		return session.Status{}, types.Errorf(types.KindInvalidState, "start", "a session is already active")
	}
	f.title = title
	f.state = types.StateActive
	return session.Status{State: f.state, MeetingID: "m1", Title: title}, nil
}

func (f *fakeController) PauseSession() (session.Status, error) {
	if f.state != types.StateActive {
		return session.Status{}, types.Errorf(types.KindInvalidState, "pause", "session is %s", f.state)
	}
	f.state = types.StatePaused
	return session.Status{State: f.state}, nil
}

func (f *fakeController) ResumeSession() (session.Status, error) {
	f.state = types.StateActive
	return session.Status{State: f.state}, nil
}

func (f *fakeController) StopSession(context.Context) (*types.MeetingRecord, error) {
	f.state = types.StateStopped
	return &types.MeetingRecord{Meeting: types.Meeting{ID: "m1", IsComplete: true}, Transcript: "done"}, nil
}

func (f *fakeController) Current() session.Status {
	if f.state == "" {
		return session.Status{State: types.StateIdle}
	}
	return session.Status{State: f.state}
}

type fakeMeetings struct{}

func (fakeMeetings) ListMeetings(limit int) ([]types.Meeting, error) {
	return []types.Meeting{{ID: "m1", Title: "Standup"}}, nil
}

func (fakeMeetings) Record(id string) (*types.MeetingRecord, error) {
	if id != "m1" {
		return nil, types.Errorf(types.KindNotFound, "get meeting", "meeting %s not found", id)
	}
	return &types.MeetingRecord{Meeting: types.Meeting{ID: "m1"}, Transcript: "hello world"}, nil
}

func (f fakeMeetings) Reassemble(_ context.Context, id string) (*types.MeetingRecord, error) {
	return f.Record(id)
}

type fakeQueue struct{ requeued []string }

func (f *fakeQueue) Pending() ([]types.UploadTask, error) { return nil, nil }

func (f *fakeQueue) DeadLetters() ([]types.UploadTask, error) {
	return []types.UploadTask{{SegmentID: "s1", Attempts: 5, DeadLettered: true}}, nil
}

func (f *fakeQueue) Requeue(_ context.Context, id string) error {
	if id != "s1" {
		return types.Errorf(types.KindNotFound, "requeue", "no upload task for segment %s", id)
	}
	f.requeued = append(f.requeued, id)
	return nil
}

type fakeStats struct{}

func (fakeStats) Stats() (*types.StorageStats, error) {
	return &types.StorageStats{Meetings: 2, Segments: 7, Uploaded: 5}, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func newTestApp(ctrl *fakeController, q *fakeQueue, health HealthChecker) *fiber.App {
	app := fiber.New()
	Routes{
		Sessions: NewSessionHandler(ctrl),
		Meetings: NewMeetingHandler(fakeMeetings{}, fakeMeetings{}),
		Uploads:  NewUploadHandler(context.Background(), q),
		System:   NewSystemHandler(fakeStats{}, ctrl, health),
	}.Mount(app)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out, string(raw)
}

func TestSessionLifecycleRoutes(t *testing.T) {
	ctrl := &fakeController{}
	app := newTestApp(ctrl, &fakeQueue{}, nil)

	status, body, _ := do(t, app, http.MethodPost, "/sessions/start", `{"title":"Retro"}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "active", body["state"])
	assert.Equal(t, "Retro", ctrl.title)

	status, body, _ = do(t, app, http.MethodPost, "/sessions/start", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ERR_INVALID_STATE", body["code"])

	status, body, _ = do(t, app, http.MethodPost, "/sessions/pause", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", body["state"])

	status, body, _ = do(t, app, http.MethodGet, "/sessions/current", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", body["state"])

	status, _, _ = do(t, app, http.MethodPost, "/sessions/resume", "")
	assert.Equal(t, http.StatusOK, status)

	status, body, _ = do(t, app, http.MethodPost, "/sessions/stop", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "done", body["transcript"])
}

func TestStartMapsDeviceUnavailable(t *testing.T) {
	ctrl := &fakeController{startErr: types.NewError(types.KindDeviceUnavailable, "start", errors.New("no mic"))}
	app := newTestApp(ctrl, &fakeQueue{}, nil)

	status, body, _ := do(t, app, http.MethodPost, "/sessions/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "ERR_DEVICE_UNAVAILABLE", body["code"])
	assert.Contains(t, body["error"], "no mic")

	status, body, _ = do(t, app, http.MethodPost, "/sessions/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ERR_INVALID_BODY", body["code"])
}

func TestMeetingRoutes(t *testing.T) {
	app := newTestApp(&fakeController{}, &fakeQueue{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/meetings?limit=10", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	var list []types.Meeting
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, "Standup", list[0].Title)

	status, _, _ := do(t, app, http.MethodGet, "/meetings?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _, text := do(t, app, http.MethodGet, "/meetings/m1/transcript", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello world", text)

	status, body, _ := do(t, app, http.MethodGet, "/meetings/zzz", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ERR_NOT_FOUND", body["code"])

	status, _, _ = do(t, app, http.MethodPost, "/meetings/m1/reassemble", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestUploadRoutes(t *testing.T) {
	q := &fakeQueue{}
	app := newTestApp(&fakeController{}, q, nil)

	_, _, text := do(t, app, http.MethodGet, "/uploads", "")
	assert.JSONEq(t, `[]`, text)

	_, _, text = do(t, app, http.MethodGet, "/uploads/dead", "")
	assert.Contains(t, text, `"segment_id":"s1"`)

	status, _, _ := do(t, app, http.MethodPost, "/uploads/s1/retry", "")
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, []string{"s1"}, q.requeued)

	status, _, _ = do(t, app, http.MethodPost, "/uploads/nope/retry", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthAndStats(t *testing.T) {
	app := newTestApp(&fakeController{}, &fakeQueue{}, fakeHealth{err: types.Rejected("health check", 401, "bad key")})

	status, body, _ := do(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "idle", body["session"])
	assert.NotContains(t, body, "transcription")

	_, body, _ = do(t, app, http.MethodGet, "/health?deep=true", "")
	assert.Equal(t, "degraded", body["status"])
	assert.Contains(t, body["transcription"], "401")

	_, body, _ = do(t, app, http.MethodGet, "/stats", "")
	assert.Equal(t, float64(7), body["segments"])
	assert.Equal(t, float64(5), body["uploaded"])
}

func TestEventStream(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	Routes{Stream: NewStreamHandler(hub, nil)}.Mount(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	defer app.Shutdown()

	url := "ws://" + ln.Addr().String() + "/ws/events?meeting=m1"
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The handler subscribes after the upgrade
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
	hub.Publish(events.Event{Type: events.SegmentFinalized, MeetingID: "other"})
	hub.Publish(events.Event{Type: events.SegmentFinalized, MeetingID: "m1", SegmentID: "s1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "m1", ev.MeetingID)
	assert.Equal(t, "s1", ev.SegmentID)
	assert.Equal(t, events.SegmentFinalized, ev.Type)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 3*time.Second, 10*time.Millisecond)

	status, _, _ := do(t, app, http.MethodGet, "/ws/events", "")
	assert.Equal(t, http.StatusUpgradeRequired, status)
}

func TestExportImportRoutes(t *testing.T) {
	newDB := func() *storage.MetadataDB {
		db, err := storage.NewMetadataDB(filepath.Join(t.TempDir(), "meetcap.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	}
	src, dst := newDB(), newDB()
	require.NoError(t, src.CreateMeeting(&types.Meeting{ID: "m1", Title: "Standup", StartTime: time.Now()}))
	require.NoError(t, src.SaveSegment(&types.Segment{ID: "s1", MeetingID: "m1", CapturedAt: time.Now()}))

	srcApp := fiber.New()
	Routes{Backup: NewBackupHandler(src)}.Mount(srcApp)
	resp, err := srcApp.Test(httptest.NewRequest(http.MethodGet, "/export", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "meetcap-export.json")
	dump, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	dstApp := fiber.New()
	Routes{Backup: NewBackupHandler(dst)}.Mount(dstApp)
	status, body, _ := do(t, dstApp, http.MethodPost, "/import", string(dump))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["meetings"])
	assert.Equal(t, float64(1), body["segments"])

	m, err := dst.GetMeeting("m1")
	require.NoError(t, err)
	assert.Equal(t, "Standup", m.Title)
	assert.Equal(t, 1, m.SegmentCount)

	status, body, _ = do(t, dstApp, http.MethodPost, "/import", "{broken")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ERR_INVALID_BODY", body["code"])
}
