package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps every version of every blob in process memory. It is
// the default store for a single conversational session.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]Blob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]Blob)}
}

func (s *MemoryStore) Save(ctx context.Context, name string, blob Blob) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("artifact: name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := Blob{MIME: blob.MIME, Data: append([]byte(nil), blob.Data...)}
	s.blobs[name] = append(s.blobs[name], cp)
	return len(s.blobs[name]), nil
}

func (s *MemoryStore) Load(ctx context.Context, name string) (Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.blobs[name]
	if len(versions) == 0 {
		return Blob{}, ErrNotFound
	}
	return versions[len(versions)-1], nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
