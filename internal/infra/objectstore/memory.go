package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is an in-memory document store with the same conditional-write
// semantics as MinioStore. It backs tests and single-node development runs.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string][]byte
	revs    map[string]uint64
	nextRev uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string][]byte),
		revs: make(map[string]uint64),
	}
}

// GetJSON fetches a document, decodes it into v and returns its revision token.
func (s *MemoryStore) GetJSON(_ context.Context, key string, v any) (string, error) {
	s.mu.Lock()
	data, ok := s.docs[key]
	rev := s.revs[key]
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return "", fmt.Errorf("decode %s: %w", key, err)
	}
	return strconv.FormatUint(rev, 10), nil
}

// PutJSON writes a document unconditionally.
func (s *MemoryStore) PutJSON(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(key, data)
	return nil
}

// PutJSONIf writes a document only if the stored revision still matches rev.
// An empty rev means the document must not exist yet.
func (s *MemoryStore) PutJSONIf(_ context.Context, key string, v any, rev string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.revs[key]
	if rev == "" {
		if exists {
			return fmt.Errorf("%s: %w", key, ErrRevisionMismatch)
		}
	} else {
		want, err := strconv.ParseUint(rev, 10, 64)
		if err != nil || !exists || current != want {
			return fmt.Errorf("%s: %w", key, ErrRevisionMismatch)
		}
	}

	s.store(key, data)
	return nil
}

// List returns the keys of all documents under the given prefix, sorted.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.docs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// store must be called with the lock held.
func (s *MemoryStore) store(key string, data []byte) {
	s.nextRev++
	s.docs[key] = data
	s.revs[key] = s.nextRev
}
