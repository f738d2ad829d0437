package kvfile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"lyricsync/pkg/fileutil"
)

const separator = " => "

// Store is a small persistent key/value list kept as "key => value" lines.
// Additions are appended; removals rewrite the file.
type Store struct {
	path string
	mu   sync.RWMutex
	data map[string]string
}

// Open loads path, creating it (and its directory) when missing.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]string)}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		k, v, ok := strings.Cut(scanner.Text(), separator)
		if !ok || k == "" {
			continue
		}
		s.data[k] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Put stores key; an unchanged pair is not written again.
func (s *Store) Put(key, value string) error {
	if strings.ContainsAny(key, "\n") || strings.Contains(key, separator) || strings.ContainsAny(value, "\n") {
		return fmt.Errorf("invalid key/value %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.data[key]; ok {
		if old == value {
			return nil
		}
		s.data[key] = value
		return s.rewrite()
	}
	s.data[key] = value

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(key + separator + value + "\n"); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return false, nil
	}
	delete(s.data, key)
	return true, s.rewrite()
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) rewrite() error {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + separator + s.data[k] + "\n")
	}
	return fileutil.WriteFileAtomic(s.path, []byte(b.String()), 0644)
}
