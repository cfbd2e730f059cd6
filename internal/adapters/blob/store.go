package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrNotFound = errors.New("image not found")
	ErrTooLarge = errors.New("image too large")
	ErrEmpty    = errors.New("image is empty")
)

// DefaultMaxBytes caps a single stored image.
const DefaultMaxBytes = 8 << 20

// Object is one stored image.
type Object struct {
	Name        string
	Title       string
	ContentType string
	Data        []byte
	StoredAt    time.Time
}

// Store is a bounded in-memory image store. The least recently used images
// are evicted once capacity is reached.
type Store struct {
	cache    *lru.Cache[string, Object]
	baseURL  string
	maxBytes int
}

// NewStore keeps up to capacity images. Download links are built under
// baseURL, e.g. "http://localhost:8080/v1/images".
func NewStore(capacity int, baseURL string, maxBytes int) (*Store, error) {
	if capacity <= 0 {
		capacity = 256
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	cache, err := lru.New[string, Object](capacity)
	if err != nil {
		return nil, fmt.Errorf("create image cache: %w", err)
	}
	return &Store{cache: cache, baseURL: strings.TrimRight(baseURL, "/"), maxBytes: maxBytes}, nil
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Put stores data and returns the final object name. The name keeps the
// sanitized base of fileName and gets a unique suffix.
func (s *Store) Put(fileName, title string, data []byte) (Object, error) {
	if len(data) == 0 {
		return Object{}, ErrEmpty
	}
	if len(data) > s.maxBytes {
		return Object{}, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), s.maxBytes)
	}

	ext := strings.ToLower(path.Ext(fileName))
	base := strings.Trim(unsafeName.ReplaceAllString(strings.TrimSuffix(path.Base(fileName), path.Ext(fileName)), "_"), "_.")
	if base == "" {
		base = "image"
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Object{}, fmt.Errorf("generate image name: %w", err)
	}
	if ext == "" {
		ext = ".png"
	}

	obj := Object{
		Name:        fmt.Sprintf("%s_%s%s", base, strings.ReplaceAll(id.String(), "-", ""), ext),
		Title:       title,
		ContentType: contentType(ext),
		Data:        data,
		StoredAt:    time.Now(),
	}
	s.cache.Add(obj.Name, obj)
	return obj, nil
}

// Get returns a stored image by name.
func (s *Store) Get(name string) (Object, error) {
	obj, ok := s.cache.Get(name)
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return obj, nil
}

// URL returns the download link for name.
func (s *Store) URL(name string) string {
	return s.baseURL + "/" + url.PathEscape(name)
}

// Len reports the number of stored images.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Upload implements ports.Uploader for in-process use.
func (s *Store) Upload(_ context.Context, fileName, title string, data []byte) (string, error) {
	obj, err := s.Put(fileName, title, data)
	if err != nil {
		return "", err
	}
	return s.URL(obj.Name), nil
}

func contentType(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
