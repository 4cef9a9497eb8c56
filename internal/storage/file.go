package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// File persists every key in a single JSON object on disk. Writes go to a
// temporary file that is renamed over the original, so readers never see a
// half-written document.
//
// A document that does not parse makes Get fail with ErrCorrupt. The next
// Set or Delete moves it aside to <path>.corrupt and starts from an empty
// document.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("file storage: %w: empty path", ErrUnavailable)
	}
	return &File{path: path}, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Get(_ context.Context, keys ...string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if v, ok := data[key]; ok {
			out[key] = v
		}
	}
	return out, nil
}

func (f *File) Set(_ context.Context, entries map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, _, err := f.loadForWrite()
	if err != nil {
		return err
	}
	for k, v := range entries {
		data[k] = v
	}
	return f.save(data)
}

func (f *File) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, changed, err := f.loadForWrite()
	if err != nil {
		return err
	}

	for _, key := range keys {
		if _, ok := data[key]; ok {
			delete(data, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.save(data)
}

func (f *File) Close() error {
	return nil
}

func (f *File) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, classifyFileError("read", err)
	}

	data := make(map[string]string)
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("file storage: decode %s: %w: %v", f.path, ErrCorrupt, err)
	}
	return data, nil
}

// loadForWrite is load for callers about to rewrite the document. A corrupt
// document is moved aside and replaced by an empty one; recovered reports
// that the file must be saved even if nothing else changes.
func (f *File) loadForWrite() (data map[string]string, recovered bool, err error) {
	data, err = f.load()
	if err == nil || !errors.Is(err, ErrCorrupt) {
		return data, false, err
	}
	if err := os.Rename(f.path, f.path+".corrupt"); err != nil {
		return nil, false, classifyFileError("move corrupt document", err)
	}
	return make(map[string]string), true, nil
}

func (f *File) save(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("file storage: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return classifyFileError("mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, ".storage-*.json")
	if err != nil {
		return classifyFileError("create temp", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return classifyFileError("write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return classifyFileError("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return classifyFileError("close", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return classifyFileError("chmod", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return classifyFileError("rename", err)
	}
	return nil
}

func classifyFileError(op string, err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("file storage: %s: %w: %v", op, ErrQuotaExceeded, err)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return fmt.Errorf("file storage: %s: %w: %v", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("file storage: %s: %w", op, err)
	}
}
