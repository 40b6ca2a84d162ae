package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/session"
	"github.com/codebuildervaibhav/meetcap/internal/storage"
	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// APIError is an error body returned by the daemon
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Client talks to a running meetcap daemon
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a client for the daemon at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		r = b
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *string:
		*v = string(raw)
		return nil
	default:
		return json.Unmarshal(raw, out)
	}
}

func (c *Client) Start(ctx context.Context, title string) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodPost, "/sessions/start", map[string]string{"title": title}, &st)
	return st, err
}

func (c *Client) Pause(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodPost, "/sessions/pause", nil, &st)
	return st, err
}

func (c *Client) Resume(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodPost, "/sessions/resume", nil, &st)
	return st, err
}

func (c *Client) Stop(ctx context.Context) (*types.MeetingRecord, error) {
	var rec types.MeetingRecord
	if err := c.do(ctx, http.MethodPost, "/sessions/stop", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Current(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodGet, "/sessions/current", nil, &st)
	return st, err
}

func (c *Client) Meetings(ctx context.Context, limit int) ([]types.Meeting, error) {
	var list []types.Meeting
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/meetings?limit=%d", limit), nil, &list)
	return list, err
}

func (c *Client) Meeting(ctx context.Context, id string) (*types.MeetingRecord, error) {
	var rec types.MeetingRecord
	if err := c.do(ctx, http.MethodGet, "/meetings/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Transcript(ctx context.Context, id string) (string, error) {
	var text string
	err := c.do(ctx, http.MethodGet, "/meetings/"+url.PathEscape(id)+"/transcript", nil, &text)
	return text, err
}

func (c *Client) Reassemble(ctx context.Context, id string) (*types.MeetingRecord, error) {
	var rec types.MeetingRecord
	if err := c.do(ctx, http.MethodPost, "/meetings/"+url.PathEscape(id)+"/reassemble", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) PendingUploads(ctx context.Context) ([]types.UploadTask, error) {
	var tasks []types.UploadTask
	err := c.do(ctx, http.MethodGet, "/uploads", nil, &tasks)
	return tasks, err
}

func (c *Client) DeadUploads(ctx context.Context) ([]types.UploadTask, error) {
	var tasks []types.UploadTask
	err := c.do(ctx, http.MethodGet, "/uploads/dead", nil, &tasks)
	return tasks, err
}

func (c *Client) Retry(ctx context.Context, segmentID string) error {
	return c.do(ctx, http.MethodPost, "/uploads/"+url.PathEscape(segmentID)+"/retry", nil, nil)
}

func (c *Client) Stats(ctx context.Context) (*types.StorageStats, error) {
	var st types.StorageStats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Export returns the daemon's metadata dump
func (c *Client) Export(ctx context.Context) (string, error) {
	var dump string
	err := c.do(ctx, http.MethodGet, "/export", nil, &dump)
	return dump, err
}

// Import sends a dump produced by Export
func (c *Client) Import(ctx context.Context, dump io.Reader) (*storage.ImportResult, error) {
	var res storage.ImportResult
	if err := c.do(ctx, http.MethodPost, "/import", dump, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// EventsURL is the websocket URL of the event stream
func (c *Client) EventsURL(meetingID string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/events"
	if meetingID != "" {
		u.RawQuery = url.Values{"meeting": {meetingID}}.Encode()
	}
	return u.String(), nil
}
