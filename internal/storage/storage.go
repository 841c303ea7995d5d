// Package storage provides the opaque key/value persistence collaborator
// that NodeConfig loads from and saves to (C11),
// grounded on original_source/flarch/src/data_storage.rs and its libc.rs
// file-backed implementation: one file per key, named after a base prefix,
// holding the raw bytes verbatim.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DataStorage is the opaque persistence surface every component that needs
// to survive a restart depends on, never a concrete file format.
type DataStorage interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Remove(key string) error
}

// Memory is a DataStorage that keeps entries only for the process lifetime,
// used by tests and by nodes that opt out of persistence.
type Memory struct {
	mu  sync.Mutex
	kvs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{kvs: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kvs[key]
	return v, ok
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kvs[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kvs, key)
	return nil
}

// File is a DataStorage backed by one file per key under dir, named
// "<base>_<key>" (or "fledger_<key>" when base is empty, matching the
// original's default naming).
type File struct {
	mu   sync.Mutex
	dir  string
	base string
}

// NewFile creates dir if missing and returns a File storage rooted there.
func NewFile(dir, base string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating directory %s: %w", dir, err)
	}
	return &File{dir: dir, base: base}, nil
}

func (f *File) name(key string) string {
	prefix := f.base
	if prefix == "" {
		prefix = "fledger"
	}
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s", prefix, key))
}

func (f *File) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.name(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (f *File) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.WriteFile(f.name(key), value, 0o644); err != nil {
		return fmt.Errorf("storage: writing key %s: %w", key, err)
	}
	return nil
}

func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.name(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: removing key %s: %w", key, err)
	}
	return nil
}
