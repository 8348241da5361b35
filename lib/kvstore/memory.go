package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps serialized values in a map, values are still round
// tripped through json so callers never share memory with the store.
type MemoryStore struct {
	lock sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (s *MemoryStore) Read(ctx context.Context, key string, out any) (bool, error) {
	s.lock.RLock()
	serialized, ok := s.data[key]
	s.lock.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decode(key, serialized, out)
}

func (s *MemoryStore) Write(ctx context.Context, key string, value any) error {
	serialized, err := encode(key, value)
	if err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.data[key] = serialized
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix, suffix string) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
