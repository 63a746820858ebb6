// Package fsutil provides filesystem abstractions for testability.
//
// The controller only touches the filesystem for its flag files: the run
// flag (which carries the PID and doubles as the liveness file) and the
// stop flag. Those operations are collected here so the event loop can be
// exercised against an in-memory filesystem.
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSystem abstracts the flag-file operations.
// Use OSFileSystem for production; MemoryFileSystem for testing.
type FileSystem interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(name string, data []byte, perm os.FileMode) error

	// Remove removes the named file. Removing a missing file is not an error.
	Remove(name string) error

	// Exists checks if a file exists.
	Exists(name string) bool

	// Touch sets the modification time of name to t, creating an empty
	// file if it does not exist.
	Touch(name string, t time.Time) error

	// ModTime returns the modification time of name.
	ModTime(name string) (time.Time, error)
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

// ReadFile reads the named file.
func (OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// WriteFile writes data to the named file, creating parent directories.
func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	return os.WriteFile(name, data, perm)
}

// Remove removes the named file, ignoring a missing file.
func (OSFileSystem) Remove(name string) error {
	err := os.Remove(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Exists checks if a file exists.
func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// Touch updates the modification time, creating the file when missing.
func (OSFileSystem) Touch(name string, t time.Time) error {
	err := os.Chtimes(name, t, t)
	if errors.Is(err, fs.ErrNotExist) {
		f, cerr := os.OpenFile(name, os.O_CREATE|os.O_WRONLY, 0o644)
		if cerr != nil {
			return cerr
		}
		if cerr := f.Close(); cerr != nil {
			return cerr
		}
		return os.Chtimes(name, t, t)
	}
	return err
}

// ModTime returns the modification time of the named file.
func (OSFileSystem) ModTime(name string) (time.Time, error) {
	info, err := os.Stat(name)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// MemoryFileSystem provides an in-memory filesystem for testing.
type MemoryFileSystem struct {
	mu      sync.RWMutex
	files   map[string]*memFile
	touches map[string]int
}

type memFile struct {
	data    []byte
	modTime time.Time
}

// NewMemoryFileSystem creates a new in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		files:   make(map[string]*memFile),
		touches: make(map[string]int),
	}
}

// ReadFile reads a file's contents.
func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[filepath.Clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

// WriteFile writes data to a file.
func (m *MemoryFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	m.files[filepath.Clean(name)] = &memFile{data: dataCopy}
	return nil
}

// Remove removes a file; a missing file is not an error.
func (m *MemoryFileSystem) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, filepath.Clean(name))
	return nil
}

// Exists checks if a file exists.
func (m *MemoryFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[filepath.Clean(name)]
	return ok
}

// Touch records a modification time, creating the file if needed.
func (m *MemoryFileSystem) Touch(name string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)
	f, ok := m.files[name]
	if !ok {
		f = &memFile{}
		m.files[name] = f
	}
	f.modTime = t
	m.touches[name]++
	return nil
}

// ModTime returns the last Touch time for name.
func (m *MemoryFileSystem) ModTime(name string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[filepath.Clean(name)]
	if !ok {
		return time.Time{}, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return f.modTime, nil
}

// Touches reports how many times name has been touched.
func (m *MemoryFileSystem) Touches(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.touches[filepath.Clean(name)]
}
