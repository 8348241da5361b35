package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore keeps every key in a single json document on disk, the whole
// document is rewritten (through a rename) on every write.
type FileStore struct {
	path string
	lock sync.RWMutex
	data map[string]json.RawMessage
}

func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: map[string]json.RawMessage{},
	}

	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(contents))) == 0 {
		return s, nil
	}
	err = json.Unmarshal(contents, &s.data)
	if err != nil {
		return nil, fmt.Errorf("read data store %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Read(ctx context.Context, key string, out any) (bool, error) {
	s.lock.RLock()
	serialized, ok := s.data[key]
	s.lock.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decode(key, serialized, out)
}

func (s *FileStore) Write(ctx context.Context, key string, value any) error {
	_, span := tracer.Start(ctx, "file:Write")
	defer span.End()

	serialized, err := encode(key, value)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	previous, existed := s.data[key]
	s.data[key] = serialized
	err = s.flush()
	if err != nil {
		if existed {
			s.data[key] = previous
		} else {
			delete(s.data, key)
		}
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *FileStore) flush() error {
	contents, err := json.Marshal(s.data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	_, err = tmp.Write(contents)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Keys(ctx context.Context, prefix, suffix string) ([]string, error) {
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
