// Package drive stores receipt documents in Google Drive and computes their
// destination paths.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Store implements the file-store capability on the Drive API.
type Store struct {
	client *drive.Service
	logger *slog.Logger
}

// New creates a Drive-backed store from an authenticated HTTP client.
func New(httpClient *http.Client, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := drive.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}

	return &Store{
		client: client,
		logger: logger.With("component", "drive_store"),
	}, nil
}

// EnsureFolder walks path segment by segment, creating missing folders, and
// returns the leaf folder ID.
func (s *Store) EnsureFolder(ctx context.Context, path string) (string, error) {
	parentID := "root"
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		id, err := s.findChild(ctx, parentID, part, true)
		if err != nil {
			return "", fmt.Errorf("resolving folder %q: %w", part, err)
		}
		if id == "" {
			id, err = s.createFolder(ctx, parentID, part)
			if err != nil {
				return "", fmt.Errorf("creating folder %q: %w", part, err)
			}
		}
		parentID = id
	}
	return parentID, nil
}

// FileExists returns the ID of a non-trashed file with this name in the
// folder, or "" when absent.
func (s *Store) FileExists(ctx context.Context, folderID, filename string) (string, error) {
	id, err := s.findChild(ctx, folderID, filename, false)
	if err != nil {
		return "", fmt.Errorf("checking for existing file %q: %w", filename, err)
	}
	return id, nil
}

// UploadFile stores data under filename inside the folder and returns the
// new file ID. Callers wanting idempotency check FileExists first.
func (s *Store) UploadFile(ctx context.Context, data []byte, folderID, filename string) (string, error) {
	var fileID string
	err := retry.Do(
		func() error {
			f, err := s.client.Files.Create(&drive.File{
				Name:    filename,
				Parents: []string{folderID},
			}).Media(bytes.NewReader(data)).Fields("id").Context(ctx).Do()
			if err != nil {
				return err
			}
			fileID = f.Id
			return nil
		},
		retry.RetryIf(s.retryable),
		retry.Attempts(3),
		retry.Delay(10*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("uploading %q: %w", filename, err)
	}

	s.logger.Info("uploaded file", "filename", filename, "file_id", fileID)
	return fileID, nil
}

func (s *Store) findChild(ctx context.Context, parentID, name string, folder bool) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false",
		escapeQuery(name), parentID)
	if folder {
		query += fmt.Sprintf(" and mimeType='%s'", folderMimeType)
	}

	var files []*drive.File
	err := retry.Do(
		func() error {
			res, err := s.client.Files.List().Q(query).Fields("files(id)").Context(ctx).Do()
			if err != nil {
				return err
			}
			files = res.Files
			return nil
		},
		retry.RetryIf(s.retryable),
		retry.Attempts(3),
		retry.Delay(10*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return files[0].Id, nil
}

func (s *Store) createFolder(ctx context.Context, parentID, name string) (string, error) {
	f, err := s.client.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	s.logger.Debug("created folder", "name", name, "folder_id", f.Id)
	return f.Id, nil
}

func (s *Store) retryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) &&
		(apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError) {
		s.logger.Warn("drive request failed, will retry", "code", apiErr.Code, "error", err)
		return true
	}
	return false
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
