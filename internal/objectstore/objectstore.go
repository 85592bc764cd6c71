// Package objectstore uploads idea images. Bytes are never decoded; only the
// declared content type and the size are checked.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ideaboard/api/internal/apperr"
)

const DefaultMaxBytes = 5 << 20

// Image is an upload as received from a client.
type Image struct {
	ContentType string
	Data        []byte
}

type Uploader interface {
	Upload(ctx context.Context, sessionID string, img Image) (string, error)
	Delete(ctx context.Context, path string) error
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Validate checks img against the accepted types and maxBytes and returns
// the file extension for its type.
func Validate(img Image, maxBytes int64) (string, error) {
	contentType := strings.ToLower(strings.TrimSpace(img.ContentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("image type %q is not supported: %w", img.ContentType, apperr.ErrInvalidInput)
	}
	if len(img.Data) == 0 {
		return "", fmt.Errorf("image is empty: %w", apperr.ErrInvalidInput)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if int64(len(img.Data)) > maxBytes {
		return "", fmt.Errorf("image exceeds %d bytes: %w", maxBytes, apperr.ErrInvalidInput)
	}
	return ext, nil
}

// ObjectPath is where an image for sessionID is stored.
func ObjectPath(sessionID, ext string) string {
	return fmt.Sprintf("ideas/%s/%s%s", sessionID, uuid.NewString(), ext)
}

// Memory keeps uploads in process. Used when no object store is configured
// and in tests.
type Memory struct {
	mu       sync.Mutex
	maxBytes int64
	objects  map[string]Image
}

func NewMemory(maxBytes int64) *Memory {
	return &Memory{maxBytes: maxBytes, objects: make(map[string]Image)}
}

func (m *Memory) Upload(ctx context.Context, sessionID string, img Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext, err := Validate(img, m.maxBytes)
	if err != nil {
		return "", err
	}
	path := ObjectPath(sessionID, ext)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = Image{ContentType: img.ContentType, Data: append([]byte(nil), img.Data...)}
	return path, nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

// Get returns a stored object.
func (m *Memory) Get(path string) (Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.objects[path]
	return img, ok
}
