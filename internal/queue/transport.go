package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Transport sends one segment's audio to remote storage
type Transport interface {
	Name() string
	Upload(ctx context.Context, seg *types.Segment) error
}

// Prober reports whether the upload destination can currently be reached
type Prober interface {
	Reachable(ctx context.Context) bool
}

// AlwaysReachable is used when there is nothing to probe
type AlwaysReachable struct{}

// Reachable always reports true
func (AlwaysReachable) Reachable(context.Context) bool { return true }

// NopTransport accepts every segment without sending it anywhere. Audio then
// stays on local disk only.
type NopTransport struct{}

// Name identifies the transport in logs
func (NopTransport) Name() string { return "none" }

// Upload does nothing
func (NopTransport) Upload(context.Context, *types.Segment) error { return nil }

// HTTPTransport POSTs segments as multipart: an "audio" file part and a
// "metadata" JSON part, authenticated with a bearer token.
type HTTPTransport struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

// NewHTTPTransport creates an HTTP upload transport
func NewHTTPTransport(endpoint, token string) *HTTPTransport {
	return &HTTPTransport{Endpoint: endpoint, Token: token, Client: &http.Client{}}
}

// Name identifies the transport in logs
func (t *HTTPTransport) Name() string { return "http" }

type segmentMetadata struct {
	SegmentID       string    `json:"segment_id"`
	MeetingID       string    `json:"meeting_id"`
	SegmentIndex    int       `json:"segment_index"`
	DurationSeconds float64   `json:"duration_seconds"`
	CapturedAt      time.Time `json:"captured_at"`
}

// Upload streams the segment's audio to the endpoint
func (t *HTTPTransport) Upload(ctx context.Context, seg *types.Segment) error {
	const op = "http upload"

	f, err := os.Open(seg.AudioLocalPath)
	if err != nil {
		return types.NewError(types.KindInvalidAudio, op, err)
	}
	defer f.Close()

	meta, err := json.Marshal(segmentMetadata{
		SegmentID:       seg.ID,
		MeetingID:       seg.MeetingID,
		SegmentIndex:    seg.SegmentIndex,
		DurationSeconds: seg.DurationSeconds,
		CapturedAt:      seg.CapturedAt,
	})
	if err != nil {
		return fmt.Errorf("encode segment metadata: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, f, filepath.Base(seg.AudioLocalPath), meta))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, pr)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	resp, err := t.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.NewError(types.KindTimeout, op, err)
		}
		return types.NewError(types.KindTransport, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.Rejected(op, resp.StatusCode, string(body))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func writeUploadForm(mw *multipart.Writer, audio io.Reader, filename string, meta []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="metadata"`)
	h.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(meta); err != nil {
		return err
	}

	fw, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return err
	}
	return mw.Close()
}

// HTTPProber treats any HTTP response from URL as reachable
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPProber creates a prober for url
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{URL: url, Timeout: 5 * time.Second, Client: &http.Client{}}
}

// Reachable sends a HEAD request and reports whether any response came back
func (p *HTTPProber) Reachable(ctx context.Context) bool {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
