// Package kvstore provides file-based and in-memory implementations of domain.Store.
package kvstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Store implements domain.Store with one file per key under a root directory.
// Writers hold an exclusive flock on <root>/.lock; readers hold a shared one.
type Store struct {
	root     string
	lockPath string
	tmpDir   string
}

// New creates a new Store rooted at dir.
// The directory does not need to exist; it will be created on first write.
func New(dir string) *Store {
	return &Store{
		root:     dir,
		lockPath: filepath.Join(dir, ".lock"),
		tmpDir:   filepath.Join(dir, ".tmp"),
	}
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the file holding key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Get returns the value for key.
func (s *Store) Get(key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	var out []byte
	err := s.withLock(syscall.LOCK_SH, func() error {
		var err error
		out, err = s.read(key)
		return err
	})
	return out, err
}

// Create stores value only if key is absent.
func (s *Store) Create(key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.withLock(syscall.LOCK_EX, func() error {
		if _, err := os.Stat(s.Path(key)); err == nil {
			return fmt.Errorf("%w: %s", domain.ErrKeyExists, key)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", key, err)
		}
		return s.write(key, value)
	})
}

// Put replaces the value for key.
func (s *Store) Put(key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.withLock(syscall.LOCK_EX, func() error {
		return s.write(key, value)
	})
}

// Update rewrites key with fn's result under the exclusive lock.
func (s *Store) Update(key string, fn func(old []byte) ([]byte, error)) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.withLock(syscall.LOCK_EX, func() error {
		old, err := s.read(key)
		if err != nil && !errors.Is(err, domain.ErrKeyNotFound) {
			return err
		}
		next, err := fn(old)
		if err != nil {
			return err
		}
		if next == nil {
			return s.remove(key)
		}
		return s.write(key, next)
	})
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.withLock(syscall.LOCK_EX, func() error {
		return s.remove(key)
	})
}

// List returns the keys under prefix, sorted.
func (s *Store) List(prefix string) ([]string, error) {
	var keys []string
	err := s.withLock(syscall.LOCK_SH, func() error {
		return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(s.root, path)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) read(key string) ([]byte, error) {
	content, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return content, nil
}

func (s *Store) write(key string, value []byte) error {
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.MkdirAll(s.tmpDir, 0o750); err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}

	// Write to temp file first, then rename for atomicity
	tmp, err := os.CreateTemp(s.tmpDir, "put-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Clean up
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *Store) remove(key string) error {
	path := s.Path(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	// Prune empty parent directories up to the root.
	for dir := filepath.Dir(path); dir != s.root && strings.HasPrefix(dir, s.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

func (s *Store) withLock(lockType int, fn func() error) error {
	lock, err := s.acquireLock(lockType)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)
	return fn()
}

func (s *Store) acquireLock(lockType int) (*os.File, error) {
	// Ensure lock file directory exists
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	lock, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(lock.Fd()), lockType); err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	return lock, nil
}

func (s *Store) releaseLock(lock *os.File) {
	_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
	_ = lock.Close()
}

// checkKey rejects keys that would escape the root or collide with store internals.
func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." || strings.HasPrefix(part, ".") {
			return fmt.Errorf("invalid key %q", key)
		}
	}
	return nil
}

// Ensure Store implements domain.Store.
var _ domain.Store = (*Store)(nil)
