package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend persists one JSON document per owner and namespace under a
// root directory. Directories are created 0700 and files 0600; file names
// are hashes of the owner so no user identifier appears on disk.
type FileBackend struct {
	mu   sync.Mutex
	root string
}

type fileRecord struct {
	Owner  string            `json:"owner"`
	Values map[string][]byte `json:"values"`
}

// NewFileBackend creates the directory layout under root.
func NewFileBackend(root string) (*FileBackend, error) {
	for _, ns := range []Namespace{NamespaceSettings, NamespaceSecure} {
		if err := os.MkdirAll(filepath.Join(root, string(ns)), 0700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &FileBackend{root: root}, nil
}

func (f *FileBackend) path(ns Namespace, owner string) string {
	return filepath.Join(f.root, string(ns), ownerHash(owner)+".json")
}

func (f *FileBackend) read(ns Namespace, owner string) (*fileRecord, error) {
	data, err := os.ReadFile(f.path(ns, owner))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse storage file: %w", err)
	}
	if rec.Values == nil {
		rec.Values = map[string][]byte{}
	}
	return &rec, nil
}

// write replaces the owner's file via rename so readers never see a partial
// document.
func (f *FileBackend) write(ns Namespace, rec *fileRecord) error {
	target := f.path(ns, rec.Owner)
	if len(rec.Values) == 0 {
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove storage file: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode storage file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close storage file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}

func (f *FileBackend) Get(_ context.Context, ns Namespace, owner, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.read(ns, owner)
	if err != nil {
		return nil, err
	}
	v, ok := rec.Values[name]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (f *FileBackend) Put(_ context.Context, ns Namespace, owner string, values map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.read(ns, owner)
	if errors.Is(err, ErrNotFound) {
		rec = &fileRecord{Owner: owner, Values: map[string][]byte{}}
	} else if err != nil {
		return err
	}
	for name, v := range values {
		rec.Values[name] = copyBytes(v)
	}
	return f.write(ns, rec)
}

func (f *FileBackend) Delete(_ context.Context, ns Namespace, owner string, names ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.read(ns, owner)
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	for _, name := range names {
		delete(rec.Values, name)
	}
	return f.write(ns, rec)
}

func (f *FileBackend) Close() error { return nil }
