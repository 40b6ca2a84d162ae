package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveClient uploads segment audio to Google Drive, one folder per meeting
type DriveClient struct {
	service    *drive.Service
	folderName string
	folderID   string

	mu       sync.Mutex
	meetings map[string]string // meeting id -> folder id
}

// NewDriveClient creates a Drive client from OAuth credentials and a cached token
func NewDriveClient(ctx context.Context, credentialsFile, tokenFile, folderName string) (*DriveClient, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client, err := getClient(ctx, config, tokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	return NewDriveClientWithService(ctx, srv, folderName)
}

// NewDriveClientWithService wraps an existing Drive service and resolves the root folder
func NewDriveClientWithService(ctx context.Context, srv *drive.Service, folderName string) (*DriveClient, error) {
	dc := &DriveClient{
		service:    srv,
		folderName: folderName,
		meetings:   make(map[string]string),
	}
	id, err := dc.findOrCreateFolder(ctx, folderName, "")
	if err != nil {
		return nil, fmt.Errorf("unable to resolve folder %q: %w", folderName, err)
	}
	dc.folderID = id
	return dc, nil
}

// getClient builds an HTTP client from the cached token. The token must have been
// created beforehand with `meetctl drive-auth`.
func getClient(ctx context.Context, config *oauth2.Config, tokenFile string) (*http.Client, error) {
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("no Drive token at %s (run meetctl drive-auth): %w", tokenFile, err)
	}
	return config.Client(ctx, tok), nil
}

// DriveAuthURL returns the consent URL for an offline Drive token
func DriveAuthURL(credentialsFile string) (string, *oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", nil, fmt.Errorf("unable to read credentials file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return "", nil, fmt.Errorf("unable to parse credentials: %w", err)
	}
	return config.AuthCodeURL("state-token", oauth2.AccessTypeOffline), config, nil
}

// ExchangeAndSaveToken trades an auth code for a token and caches it
func ExchangeAndSaveToken(ctx context.Context, config *oauth2.Config, code, tokenFile string) error {
	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("unable to retrieve token: %w", err)
	}
	return saveToken(tokenFile, tok)
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// saveToken saves a token to a file path
func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// Upload sends a segment's audio into <folder>/<meeting id>/
func (dc *DriveClient) Upload(ctx context.Context, seg *types.Segment) error {
	folderID, err := dc.meetingFolder(ctx, seg.MeetingID)
	if err != nil {
		return err
	}

	f, err := os.Open(seg.AudioLocalPath)
	if err != nil {
		return types.NewError(types.KindInvalidAudio, "drive upload", err)
	}
	defer f.Close()

	file := &drive.File{
		Name:    fmt.Sprintf("segment_%04d%s", seg.SegmentIndex, filepath.Ext(seg.AudioLocalPath)),
		Parents: []string{folderID},
		AppProperties: map[string]string{
			"segment_id": seg.ID,
			"meeting_id": seg.MeetingID,
		},
	}

	if _, err := dc.service.Files.Create(file).Media(f).Context(ctx).Do(); err != nil {
		return classifyDriveError(ctx, err)
	}
	return nil
}

func (dc *DriveClient) meetingFolder(ctx context.Context, meetingID string) (string, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if id, ok := dc.meetings[meetingID]; ok {
		return id, nil
	}
	id, err := dc.findOrCreateFolder(ctx, meetingID, dc.folderID)
	if err != nil {
		return "", classifyDriveError(ctx, err)
	}
	dc.meetings[meetingID] = id
	return id, nil
}

// findOrCreateFolder finds or creates a folder under parentID (or the Drive root)
func (dc *DriveClient) findOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(name), folderMimeType)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	r, err := dc.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}

	file, err := dc.service.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return file.Id, nil
}

func classifyDriveError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return types.NewError(types.KindTimeout, "drive upload", err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return types.Rejected("drive upload", gerr.Code, gerr.Message)
	}
	return types.NewError(types.KindTransport, "drive upload", err)
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

// Name identifies the transport in logs
func (dc *DriveClient) Name() string {
	return "gdrive"
}
