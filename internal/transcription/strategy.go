package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

// Request is one transcription call
type Request struct {
	Endpoint string
	APIKey   string
	Model    string
	Language string
	Path     string
}

// Response is the provider's parsed reply
type Response struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Strategy is one way of getting the audio bytes to the provider.
// Errors are *types.Error; KindTransport means the next strategy may be tried.
type Strategy interface {
	Name() string
	Send(ctx context.Context, client *http.Client, req Request) (Response, error)
}

// NewStrategy returns the named strategy
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "streaming":
		return StreamingStrategy{}, nil
	case "buffered":
		return BufferedStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown transcription strategy %q", name)
	}
}

// StreamingStrategy pipes the multipart body straight from disk with chunked encoding
type StreamingStrategy struct{}

func (StreamingStrategy) Name() string { return "streaming" }

func (StreamingStrategy) Send(ctx context.Context, client *http.Client, r Request) (Response, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return Response{}, types.NewError(types.KindInvalidAudio, "open audio", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	// Write multipart in a goroutine so the pipe feeds the request body
	errCh := make(chan error, 1)
	go func() {
		err := writeForm(writer, f, r)
		pw.CloseWithError(err)
		errCh <- err
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, pr)
	if err != nil {
		pr.Close()
		<-errCh
		return Response{}, types.NewError(types.KindTransport, "create request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	setAuth(req, r.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		<-errCh
		return Response{}, classifyTransportErr(ctx, "streaming request", err)
	}
	defer resp.Body.Close()

	out, err := readResponse(ctx, resp)
	// The server may answer before consuming the whole body
	pr.Close()
	if writeErr := <-errCh; writeErr != nil && err == nil && !errors.Is(writeErr, io.ErrClosedPipe) {
		return Response{}, types.NewError(types.KindTransport, "multipart write", writeErr)
	}
	return out, err
}

// BufferedStrategy builds the whole body in memory and sends it with a Content-Length
type BufferedStrategy struct{}

func (BufferedStrategy) Name() string { return "buffered" }

func (BufferedStrategy) Send(ctx context.Context, client *http.Client, r Request) (Response, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return Response{}, types.NewError(types.KindInvalidAudio, "open audio", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writeForm(writer, f, r); err != nil {
		return Response{}, types.NewError(types.KindInvalidAudio, "build form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body.Bytes()))
	if err != nil {
		return Response{}, types.NewError(types.KindTransport, "create request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	setAuth(req, r.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return Response{}, classifyTransportErr(ctx, "buffered request", err)
	}
	defer resp.Body.Close()

	return readResponse(ctx, resp)
}

func writeForm(writer *multipart.Writer, audio io.Reader, r Request) error {
	part, err := writer.CreateFormFile("file", filepath.Base(r.Path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("copy audio data: %w", err)
	}
	fields := [][2]string{
		{"model", r.Model},
		{"language", r.Language},
		{"response_format", "json"},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	return writer.Close()
}

func setAuth(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func readResponse(ctx context.Context, resp *http.Response) (Response, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, classifyTransportErr(ctx, "read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, types.Rejected("transcribe", resp.StatusCode, truncate(body, 200))
	}

	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, types.Rejected("transcribe", resp.StatusCode,
			fmt.Sprintf("decode response: %v", err))
	}
	return parsed, nil
}

func classifyTransportErr(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.KindTimeout, op, err)
	}
	return types.NewError(types.KindTransport, op, err)
}

// truncate returns the first n bytes of body as a string
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
