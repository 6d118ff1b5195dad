package store

import (
	"sync"

	"beacon/internal/domain"
)

// MemoryStore keeps blobs in a map.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string]map[string][]byte
}

var _ domain.BlobStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(namespace, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[namespace][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (s *MemoryStore) Put(namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs[namespace] == nil {
		s.blobs[namespace] = make(map[string][]byte)
	}
	s.blobs[namespace][key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) PutAll(namespace string, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs[namespace] == nil {
		s.blobs[namespace] = make(map[string][]byte)
	}
	for key, value := range values {
		s.blobs[namespace][key] = append([]byte(nil), value...)
	}
	return nil
}

func (s *MemoryStore) DeleteNamespace(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, namespace)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
