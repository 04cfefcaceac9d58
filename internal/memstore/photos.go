package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/pilab-dev/datelink/domain"
)

type photo struct {
	contentType string
	data        []byte
}

// PhotoStore keeps images in memory.
type PhotoStore struct {
	mu      sync.RWMutex
	photos  map[string]photo
	baseURL string
}

// NewPhotoStore creates a store whose URLs are baseURL + "/photos/" + name.
func NewPhotoStore(baseURL string) *PhotoStore {
	return &PhotoStore{
		photos:  make(map[string]photo),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *PhotoStore) PutPhoto(ctx context.Context, name, contentType string, data io.Reader) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read photo %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.photos[name] = photo{contentType: contentType, data: b}
	s.mu.Unlock()

	return s.baseURL + "/photos/" + url.PathEscape(name), nil
}

func (s *PhotoStore) OpenPhoto(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	p, ok := s.photos[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("photo %s: %w", name, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(p.data)), nil
}

var _ domain.PhotoStore = (*PhotoStore)(nil)
