package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxNameAttempts bounds the create-or-suffix loop in SaveUnique.
const maxNameAttempts = 1000

// maxNameLen is the longest file name, in bytes, the common filesystems accept.
const maxNameLen = 255

var (
	ErrBlobNotFound  = errors.New("blob not found")
	ErrNameExhausted = errors.New("no free storage name")
	ErrInvalidKey    = errors.New("invalid storage key")
)

// Store defines the interface for blob storage backends. Keys are opaque to
// callers; they are whatever SaveUnique returned.
type Store interface {
	SaveUnique(ctx context.Context, name string, data io.Reader) (key string, n int64, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context) ([]string, error)
	EnsureDir(ctx context.Context) error
}

// FileSystemStore stores uploaded files on the local filesystem.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (s *FileSystemStore) EnsureDir(ctx context.Context) error {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.basePath, err)
	}
	return nil
}

// SaveUnique writes data under name, or under "N_name" for the first N that is
// free. Each candidate is claimed with O_EXCL so concurrent uploads of the
// same name never share a file.
func (s *FileSystemStore) SaveUnique(ctx context.Context, name string, data io.Reader) (string, int64, error) {
	if err := validKey(name); err != nil {
		return "", 0, err
	}

	for i := 0; i < maxNameAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}

		key := candidate(name, i)

		file, err := os.OpenFile(s.filePath(key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return "", 0, fmt.Errorf("failed to create file %s: %w", key, err)
		}

		n, err := io.Copy(file, data)
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			// Clean up partial file on error
			os.Remove(s.filePath(key))
			return "", 0, fmt.Errorf("failed to write file: %w", err)
		}
		return key, n, nil
	}

	return "", 0, fmt.Errorf("%w for %s after %d attempts", ErrNameExhausted, name, maxNameAttempts)
}

// Open returns a reader over the stored blob.
func (s *FileSystemStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.filePath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete removes the stored blob. A blob that is already gone is not an error.
func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	filePath := s.filePath(key)
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// Exists reports whether a blob is stored under key.
func (s *FileSystemStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	if _, err := os.Stat(s.filePath(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// List returns the keys of all stored blobs.
func (s *FileSystemStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}

// candidate is the i-th name SaveUnique tries for name: name itself, then
// "i_name". The base is shortened so the result fits in maxNameLen bytes and
// the extension survives.
func candidate(name string, i int) string {
	prefix := ""
	if i > 0 {
		prefix = strconv.Itoa(i) + "_"
	}
	if len(prefix)+len(name) <= maxNameLen {
		return prefix + name
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	room := maxNameLen - len(prefix) - len(ext)
	if room < 1 {
		return truncate(prefix+name, maxNameLen)
	}
	return prefix + truncate(base, room) + ext
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (s *FileSystemStore) filePath(key string) string {
	return filepath.Join(s.basePath, key)
}

// validKey keeps keys to a single path element inside the base directory.
func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
