package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

func TestFileSystemStore_SaveUnique(t *testing.T) {
	ctx := context.Background()

	t.Run("saves file to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		key, n, err := store.SaveUnique(ctx, "report.txt", bytes.NewReader([]byte("test content")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "report.txt" {
			t.Errorf("expected key report.txt, got %s", key)
		}
		if n != 12 {
			t.Errorf("expected 12 bytes written, got %d", n)
		}

		content, err := os.ReadFile(filepath.Join(dir, "report.txt"))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("suffixes colliding names", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		var keys []string
		for i := 0; i < 3; i++ {
			key, _, err := store.SaveUnique(ctx, "a.txt", strings.NewReader("x"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			keys = append(keys, key)
		}

		want := []string{"a.txt", "1_a.txt", "2_a.txt"}
		for i := range want {
			if keys[i] != want[i] {
				t.Errorf("save %d: expected %s, got %s", i, want[i], keys[i])
			}
		}
	})

	t.Run("suffixed names stay within the name length limit", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)
		name := strings.Repeat("a", maxNameLen-len(".txt")) + ".txt"

		var keys []string
		for i := 0; i < 3; i++ {
			key, _, err := store.SaveUnique(ctx, name, strings.NewReader(fmt.Sprintf("v%d", i)))
			if err != nil {
				t.Fatalf("save %d: unexpected error: %v", i, err)
			}
			if len(key) > maxNameLen {
				t.Errorf("save %d: key is %d bytes", i, len(key))
			}
			if !strings.HasSuffix(key, ".txt") {
				t.Errorf("save %d: extension lost in %q", i, key)
			}
			keys = append(keys, key)
		}

		if keys[0] != name {
			t.Errorf("expected first key to be the name itself, got %q", keys[0])
		}
		if want := "1_" + strings.Repeat("a", maxNameLen-len("1_.txt")) + ".txt"; keys[1] != want {
			t.Errorf("expected %q, got %q", want, keys[1])
		}
		for i, key := range keys {
			got, err := os.ReadFile(filepath.Join(dir, key))
			if err != nil {
				t.Fatalf("failed to read %s: %v", key, err)
			}
			if want := fmt.Sprintf("v%d", i); string(got) != want {
				t.Errorf("key %d: expected %q, got %q", i, want, got)
			}
		}
	})

	t.Run("concurrent saves of one name get distinct keys", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		const workers = 10
		keys := make([]string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key, _, err := store.SaveUnique(ctx, "same.bin", strings.NewReader("data"))
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				keys[i] = key
			}(i)
		}
		wg.Wait()

		seen := make(map[string]bool)
		for _, k := range keys {
			if seen[k] {
				t.Fatalf("duplicate key %s", k)
			}
			seen[k] = true
		}
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		for _, name := range []string{"../escape", "a/b", `a\b`, "..", ""} {
			if _, _, err := store.SaveUnique(ctx, name, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("%q: expected ErrInvalidKey, got %v", name, err)
			}
		}
	})

	t.Run("saves large content", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		largeContent := strings.Repeat("x", 1024*1024) // 1MB
		_, n, err := store.SaveUnique(ctx, "large", strings.NewReader(largeContent))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != int64(len(largeContent)) {
			t.Errorf("expected %d bytes, got %d", len(largeContent), n)
		}
	})
}

func TestCandidate(t *testing.T) {
	tests := []struct {
		name string
		i    int
		want string
	}{
		{"a.txt", 0, "a.txt"},
		{"a.txt", 12, "12_a.txt"},
		{strings.Repeat("b", 300), 1, "1_" + strings.Repeat("b", maxNameLen-2)},
		{"a." + strings.Repeat("x", 300), 1, "1_a." + strings.Repeat("x", maxNameLen-4)},
		{strings.Repeat("я", 200) + ".txt", 1, "1_" + strings.Repeat("я", 124) + ".txt"},
	}

	for _, tt := range tests {
		got := candidate(tt.name, tt.i)
		if got != tt.want {
			t.Errorf("candidate(%.20q..., %d) = %.20q... (len %d), want len %d", tt.name, tt.i, got, len(got), len(tt.want))
		}
		if len(got) > maxNameLen {
			t.Errorf("candidate(%.20q..., %d) is %d bytes", tt.name, tt.i, len(got))
		}
	}
}

func TestFileSystemStore_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("reads stored content", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)
		os.WriteFile(filepath.Join(dir, "test123"), []byte("data"), 0644)

		rc, err := store.Open(ctx, "test123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()

		got, _ := io.ReadAll(rc)
		if string(got) != "data" {
			t.Errorf("expected 'data', got %q", got)
		}
	})

	t.Run("returns ErrBlobNotFound for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if _, err := store.Open(ctx, "nonexistent"); !errors.Is(err, ErrBlobNotFound) {
			t.Errorf("expected ErrBlobNotFound, got %v", err)
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		filePath := filepath.Join(dir, "del123")
		os.WriteFile(filePath, []byte("data"), 0644)

		if err := store.Delete(ctx, "del123"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := os.Stat(filePath); !os.IsNotExist(err) {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("no error for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.Delete(ctx, "nonexistent"); err != nil {
			t.Errorf("expected no error for missing file, got: %v", err)
		}
	})
}

func TestFileSystemStore_Exists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileSystemStore(dir)
	os.WriteFile(filepath.Join(dir, "here"), []byte("x"), 0644)

	if ok, err := store.Exists(ctx, "here"); err != nil || !ok {
		t.Errorf("expected here to exist, got %v (err=%v)", ok, err)
	}
	if ok, err := store.Exists(ctx, "gone"); err != nil || ok {
		t.Errorf("expected gone to be absent, got %v (err=%v)", ok, err)
	}
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	ctx := context.Background()

	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.EnsureDir(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

type stubPaths []string

func (s stubPaths) ListStoragePaths(ctx context.Context) ([]string, error) {
	return s, nil
}

func TestReconciler_Run(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileSystemStore(dir)
	for _, name := range []string{"kept.txt", "orphan1", "orphan2"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644)
	}
	os.Mkdir(filepath.Join(dir, "subdir"), 0755)

	res, err := NewReconciler(stubPaths{"kept.txt", "missing.txt"}, store).Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Scanned != 3 || res.Removed != 2 || res.Failed != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	left, _ := store.List(ctx)
	sort.Strings(left)
	if len(left) != 1 || left[0] != "kept.txt" {
		t.Errorf("expected only kept.txt to remain, got %v", left)
	}
}
