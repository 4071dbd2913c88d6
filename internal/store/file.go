package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore keeps every value in one JSON document. Dotted keys map to nested
// objects, so "bmc.username" is stored as {"bmc": {"username": ...}}.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]interface{}
	log  *zap.Logger
}

// NewFileStore loads path, treating a missing file as an empty store.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{
		path: path,
		data: make(map[string]interface{}),
		log:  logger.Named("file_store"),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Debug("Store file does not exist yet.", zap.String("path", path))
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to decode store file %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	node := interface{}(s.data)
	for _, part := range strings.Split(key, ".") {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return "", ErrNotFound
		}
		if node, ok = obj[part]; !ok {
			return "", ErrNotFound
		}
	}

	switch v := node.(type) {
	case string:
		return v, nil
	case nil, map[string]interface{}:
		return "", ErrNotFound
	default:
		return fmt.Sprint(v), nil
	}
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(key, ".")
	obj := s.data
	for _, part := range parts[:len(parts)-1] {
		child, ok := obj[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			obj[part] = child
		}
		obj = child
	}
	obj[parts[len(parts)-1]] = value
	return s.flush()
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(key, ".")
	obj := s.data
	for _, part := range parts[:len(parts)-1] {
		child, ok := obj[part].(map[string]interface{})
		if !ok {
			return nil
		}
		obj = child
	}
	if _, ok := obj[parts[len(parts)-1]]; !ok {
		return nil
	}
	delete(obj, parts[len(parts)-1])
	return s.flush()
}

func (s *FileStore) Close() error { return nil }

// flush writes the document to a temp file and renames it into place. Caller holds mu.
func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "\t")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".store-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	s.log.Debug("Store flushed.", zap.String("path", s.path))
	return nil
}
