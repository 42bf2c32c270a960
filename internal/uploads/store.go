package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"course-chat-service/internal/models"
)

// MaxFileSize caps a single uploaded blob at 25 MiB.
const MaxFileSize = 25 << 20

var ErrTooLarge = errors.New("file too large")

// Store writes uploaded blobs to a directory and hands back opaque
// references. The chat core never looks inside the blob again; the URL is
// the only handle.
type Store struct {
	dir     string
	baseURL string
}

// NewStore creates the upload directory if needed.
func NewStore(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the backing directory, for static file serving.
func (s *Store) Dir() string {
	return s.dir
}

// Save stores one blob and returns its attachment reference with the type
// classified from the detected mime type.
func (s *Store) Save(filename string, r io.Reader) (models.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxFileSize {
		return models.Attachment{}, ErrTooLarge
	}

	mtype := mimetype.Detect(data)
	ext := mtype.Extension()
	if ext == "" {
		ext = filepath.Ext(filename)
	}
	stored := uuid.NewString() + ext

	if err := os.WriteFile(filepath.Join(s.dir, stored), data, 0o644); err != nil {
		return models.Attachment{}, fmt.Errorf("write upload: %w", err)
	}

	return models.Attachment{
		Type:     Classify(mtype.String()),
		URL:      s.baseURL + "/" + stored,
		Filename: filepath.Base(filename),
		MimeType: mtype.String(),
		Size:     int64(len(data)),
	}, nil
}

// Remove deletes a stored blob by its attachment reference. Used to roll
// back a partially written batch.
func (s *Store) Remove(att models.Attachment) error {
	name := filepath.Base(att.URL)
	if name == "" || name == "." || name == "/" {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Classify maps a mime type onto the attachment taxonomy the client
// renders; anything unrecognized is a document.
func Classify(mimeType string) models.AttachmentType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return models.AttachmentImage
	case strings.HasPrefix(mimeType, "video/"):
		return models.AttachmentVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return models.AttachmentAudio
	default:
		return models.AttachmentDocument
	}
}
