package storagesvc

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
)

// File is an object kept by MemoryStorage.
type File struct {
	ContentType string
	Content     []byte
}

// MemoryStorage keeps uploads in memory (DEV & tests).
type MemoryStorage struct {
	baseURL    string
	expiration time.Duration

	mu    sync.RWMutex
	files map[string]File
}

var _ core.FileStorage = (*MemoryStorage)(nil)

func NewMemoryStorage(baseURL string, expiration time.Duration) *MemoryStorage {
	return &MemoryStorage{baseURL: baseURL, expiration: expiration, files: make(map[string]File)}
}

func (s *MemoryStorage) Upload(_ context.Context, key, contentType string, body io.Reader) error {
	content, err := io.ReadAll(body)
	if err != nil {
		return errors.Wrapf(err, "reading %s", key)
	}
	s.mu.Lock()
	s.files[key] = File{ContentType: contentType, Content: content}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) SignedURL(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	_, ok := s.files[key]
	s.mu.RUnlock()
	if !ok {
		return "", core.NewNotFoundError("file not found")
	}
	expires := time.Now().Add(s.expiration).Unix()
	return s.baseURL + "/" + url.PathEscape(key) + "?expires=" + strconv.FormatInt(expires, 10), nil
}

// Get returns the file stored under key.
func (s *MemoryStorage) Get(key string) (File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[key]
	return f, ok
}
