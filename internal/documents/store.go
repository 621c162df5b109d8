package documents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/farxc/tramitacao/internal/apperr"
)

// Store keeps generated and uploaded documents and returns a URL for each.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	// Delete removes a document. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Upload is a file received from the operator.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// IsPDF sniffs the content; the declared content type and extension are not trusted.
func (u *Upload) IsPDF() bool {
	if u == nil || len(u.Data) == 0 {
		return false
	}
	return http.DetectContentType(u.Data) == "application/pdf"
}

// LocalStore writes documents under a directory and serves them from baseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, body []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", clean, err)
	}
	if err := os.WriteFile(full, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write document %s: %w", clean, err)
	}
	return s.baseURL + "/" + clean, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := cleanKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.dir, filepath.FromSlash(clean)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove document %s: %w", clean, err)
	}
	return nil
}

// Dir is where LocalStore keeps its files, for serving them over HTTP.
func (s *LocalStore) Dir() string {
	return s.dir
}

func cleanKey(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || strings.HasPrefix(clean, "..") {
		return "", apperr.Validation("chave de documento inválida: %q", key)
	}
	return clean, nil
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (s *MemoryStore) Put(ctx context.Context, key string, body []byte, _ string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[clean] = append([]byte(nil), body...)
	u := url.URL{Scheme: "memory", Host: "documents", Path: "/" + clean}
	return u.String(), ctx.Err()
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	clean, err := cleanKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, clean)
	return ctx.Err()
}

func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[key]
	return b, ok
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
