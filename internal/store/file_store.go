package store

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"beacon/internal/domain"
)

const blobSuffix = ".blob"

// FileStore keeps each namespace in its own directory under dir.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

var _ domain.BlobStore = (*FileStore)(nil)

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Get reads one blob; a missing blob is not an error.
func (s *FileStore) Get(namespace, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return readBlob(s.path(namespace, key))
}

// Put replaces one blob.
func (s *FileStore) Put(namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeBlob(s.path(namespace, key), value)
}

// PutAll stages every value before renaming any of them into place, so a
// failed write leaves the namespace as it was.
func (s *FileStore) PutAll(namespace string, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	staged := make([]string, 0, len(keys))
	discard := func() {
		for _, name := range staged {
			_ = os.Remove(name)
		}
	}
	for _, key := range keys {
		name, err := stageBlob(s.path(namespace, key), values[key])
		if err != nil {
			discard()
			return err
		}
		staged = append(staged, name)
	}
	for i, key := range keys {
		if err := os.Rename(staged[i], s.path(namespace, key)); err != nil {
			discard()
			return err
		}
	}
	return nil
}

// DeleteNamespace removes the namespace directory.
func (s *FileStore) DeleteNamespace(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return os.RemoveAll(filepath.Join(s.dir, url.PathEscape(namespace)))
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(namespace, key string) string {
	return filepath.Join(s.dir, url.PathEscape(namespace), url.PathEscape(key)+blobSuffix)
}
