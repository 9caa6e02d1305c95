package talkbase

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ============================================================================
// FilesClient
// ============================================================================

// MaxUploadSize is the largest attachment the platform accepts.
const MaxUploadSize = 50 * 1024 * 1024

// FilesClient handles attachment upload and the upload-then-send flow.
type FilesClient struct{ c *Client }

// UploadOptions configures an upload. FileName is required when uploading
// raw bytes; MimeType is guessed from the extension when empty.
type UploadOptions struct {
	FileName string
	MimeType string
}

// Upload stores data and returns an Attachment ready to send.
func (f *FilesClient) Upload(ctx context.Context, data []byte, opts *UploadOptions) (*Attachment, error) {
	if err := f.c.ready(); err != nil {
		return nil, err
	}
	uid := f.c.currentUID()
	if uid == "" {
		return nil, ErrForbidden
	}
	if opts == nil || opts.FileName == "" {
		return nil, fmt.Errorf("talkbase: fileName is required")
	}
	if int64(len(data)) > MaxUploadSize {
		return nil, fmt.Errorf("talkbase: file exceeds maximum size of 50 MB")
	}

	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = guessMimeType(opts.FileName)
	}

	path := "uploads/" + uid + "/" + uuid.NewString() + "-" + opts.FileName
	url, err := f.c.backend.Blobs().Upload(ctx, path, data, mimeType)
	if err != nil {
		return nil, transportErr("files.upload", err)
	}
	return &Attachment{
		URL:      url,
		FileName: opts.FileName,
		FileSize: int64(len(data)),
		MimeType: mimeType,
	}, nil
}

// SendFile uploads data and appends it to roomID as a single operation.
// Caption becomes the message text.
func (f *FilesClient) SendFile(ctx context.Context, roomID string, data []byte, caption string, opts *UploadOptions) (*Message, error) {
	attachment, err := f.Upload(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	return f.c.messages.Append(ctx, roomID, &MessageInput{
		Text:       caption,
		Attachment: attachment,
	})
}

// kindForMime maps a MIME type to the message kind used for previews.
func kindForMime(mimeType string) MessageKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	case mimeType == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mimeType, "text/"),
		strings.Contains(mimeType, "word"),
		strings.Contains(mimeType, "spreadsheet"),
		strings.Contains(mimeType, "presentation"):
		return KindDocument
	default:
		return KindFile
	}
}

// guessMimeType returns the MIME type for a file name's extension.
func guessMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".md": "text/markdown", ".yaml": "text/yaml", ".yml": "text/yaml",
		".webp": "image/webp", ".webm": "video/webm",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
