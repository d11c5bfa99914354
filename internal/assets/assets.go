// Package assets stores files uploaded to docs in S3-compatible object
// storage.
package assets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// MaxSize is the largest accepted upload.
const MaxSize = 10 << 20

var (
	ErrUnavailable     = errors.New("assets: storage not configured")
	ErrTooLarge        = errors.New("assets: file too large")
	ErrUnsupportedType = errors.New("assets: unsupported file type")
	ErrEmpty           = errors.New("assets: empty file")
)

// allowed maps sniffed content types to the extension used in object keys.
var allowed = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// ObjectStore is the subset of object storage the service needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	RemoveObject(ctx context.Context, key string) error
	URL(ctx context.Context, key string) (string, error)
}

// Upload is a stored object.
type Upload struct {
	Key         string
	ContentType string
	Size        int64
}

type Service struct {
	objects ObjectStore
}

// NewService wraps objects. A nil store yields a service whose operations
// all fail with ErrUnavailable.
func NewService(objects ObjectStore) *Service {
	return &Service{objects: objects}
}

func (s *Service) Available() bool {
	return s != nil && s.objects != nil
}

// Store validates and uploads one file under docs/<docID>/<uuid><ext>. The
// content type is sniffed from the data; the client-declared one is ignored.
func (s *Service) Store(ctx context.Context, docID string, r io.Reader, size int64) (Upload, error) {
	if !s.Available() {
		return Upload{}, ErrUnavailable
	}
	if size > MaxSize {
		return Upload{}, ErrTooLarge
	}
	if size == 0 {
		return Upload{}, ErrEmpty
	}

	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Upload{}, fmt.Errorf("read upload: %w", err)
	}
	if len(head) == 0 {
		return Upload{}, ErrEmpty
	}
	contentType, ext, ok := Sniff(head)
	if !ok {
		return Upload{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	key := ObjectKey(docID, ext)
	if err := s.objects.PutObject(ctx, key, io.LimitReader(br, MaxSize), size, contentType); err != nil {
		return Upload{}, fmt.Errorf("put object: %w", err)
	}
	return Upload{Key: key, ContentType: contentType, Size: size}, nil
}

func (s *Service) Remove(ctx context.Context, key string) error {
	if !s.Available() {
		return ErrUnavailable
	}
	return s.objects.RemoveObject(ctx, key)
}

func (s *Service) URL(ctx context.Context, key string) (string, error) {
	if !s.Available() {
		return "", ErrUnavailable
	}
	return s.objects.URL(ctx, key)
}

// Sniff detects the content type of data and reports whether it is an
// accepted upload type.
func Sniff(head []byte) (contentType, ext string, ok bool) {
	contentType = http.DetectContentType(head)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	ext, ok = allowed[contentType]
	return contentType, ext, ok
}

func ObjectKey(docID, ext string) string {
	return "docs/" + docID + "/" + uuid.NewString() + ext
}
