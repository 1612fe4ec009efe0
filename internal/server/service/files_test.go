package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFileService_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("returns share link", func(t *testing.T) {
		f := setup(t)
		alice := f.user(t, "alice")

		res := f.upload(t, alice, "Привет мир.txt", "hello")
		if res.Filename != "privet mir.txt" {
			t.Errorf("expected sanitized name, got %q", res.Filename)
		}
		if res.DownloadURL != "http://share.test/f/"+res.Token {
			t.Errorf("unexpected download url %q", res.DownloadURL)
		}
		if res.Size != 5 || res.DownloadLimit != 5 || res.AutoDelete {
			t.Errorf("unexpected result: %+v", res)
		}

		rec := f.record(t, res.Token)
		if rec.Uploader != "alice" || rec.PINCode != "1234" || rec.DownloadCount != 0 {
			t.Errorf("unexpected record: %+v", rec)
		}
	})

	t.Run("same name twice gets distinct blobs", func(t *testing.T) {
		f := setup(t)
		alice := f.user(t, "alice")

		a := f.upload(t, alice, "notes.txt", "one")
		b := f.upload(t, alice, "notes.txt", "two")
		if a.Token == b.Token {
			t.Fatal("expected distinct tokens")
		}
		if f.record(t, a.Token).StoragePath == f.record(t, b.Token).StoragePath {
			t.Error("expected distinct storage paths")
		}
	})

	t.Run("standard user settings are fixed", func(t *testing.T) {
		f := setup(t)
		alice := f.user(t, "alice")

		limit := 1
		res, err := f.files.Upload(ctx, alice, UploadRequest{
			Filename:      "a.txt",
			Data:          strings.NewReader("x"),
			Size:          1,
			PIN:           "1234",
			DownloadLimit: &limit,
			AutoDelete:    true,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.DownloadLimit != 5 || res.AutoDelete {
			t.Errorf("expected default settings, got %+v", res)
		}
	})

	t.Run("admin download limit is validated", func(t *testing.T) {
		f := setup(t)
		for _, limit := range []int{0, -1, 101} {
			limit := limit
			_, err := f.files.Upload(ctx, f.admin(), UploadRequest{
				Filename:      "a.txt",
				Data:          strings.NewReader("x"),
				PIN:           "1234",
				DownloadLimit: &limit,
			})
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("limit %d: expected ErrInvalidInput, got %v", limit, err)
			}
		}
	})

	t.Run("short PIN rejected", func(t *testing.T) {
		f := setup(t)
		alice := f.user(t, "alice")
		_, err := f.files.Upload(ctx, alice, UploadRequest{
			Filename: "a.txt",
			Data:     strings.NewReader("x"),
			PIN:      "123",
		})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unknown uploader", func(t *testing.T) {
		f := setup(t)
		ghost := f.accounts.IdentityFor("ghost")
		_, err := f.files.Upload(ctx, ghost, UploadRequest{
			Filename: "a.txt",
			Data:     strings.NewReader("x"),
			PIN:      "1234",
		})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("expected ErrPermissionDenied, got %v", err)
		}
		if keys, _ := f.store.List(ctx); len(keys) != 0 {
			t.Errorf("expected no blobs, got %v", keys)
		}
	})
}

func TestFileService_Quota(t *testing.T) {
	ctx := context.Background()

	t.Run("sixth file rejected for a standard user", func(t *testing.T) {
		f := setup(t)
		alice := f.user(t, "alice")
		for i := 0; i < 5; i++ {
			f.upload(t, alice, fmt.Sprintf("f%d.txt", i), "x")
		}

		_, err := f.files.Upload(ctx, alice, UploadRequest{
			Filename: "f5.txt",
			Data:     strings.NewReader("x"),
			Size:     1,
			PIN:      "1234",
		})
		if !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("expected ErrQuotaExceeded, got %v", err)
		}
		var qerr *QuotaError
		if !errors.As(err, &qerr) || qerr.Kind != QuotaFileCount {
			t.Errorf("expected file count quota, got %v", err)
		}
		if keys, _ := f.store.List(ctx); len(keys) != 5 {
			t.Errorf("expected 5 blobs, got %d", len(keys))
		}
	})

	t.Run("admin bypasses the file count", func(t *testing.T) {
		f := setup(t)
		for i := 0; i < 6; i++ {
			f.upload(t, f.admin(), fmt.Sprintf("f%d.txt", i), "x")
		}
		files, _ := f.files.ListMine(ctx, f.admin())
		if len(files) != 6 {
			t.Errorf("expected 6 files, got %d", len(files))
		}
	})

	t.Run("declared size over the limit", func(t *testing.T) {
		f := setup(t)
		alice := f.user(t, "alice")
		content := strings.Repeat("x", testMaxBytes+1)

		_, err := f.files.Upload(ctx, alice, UploadRequest{
			Filename: "big.bin",
			Data:     strings.NewReader(content),
			Size:     int64(len(content)),
			PIN:      "1234",
		})
		var qerr *QuotaError
		if !errors.As(err, &qerr) || qerr.Kind != QuotaFileSize {
			t.Errorf("expected file size quota, got %v", err)
		}
	})

	t.Run("understated size is caught while writing", func(t *testing.T) {
		f := setup(t)
		alice := f.user(t, "alice")

		_, err := f.files.Upload(ctx, alice, UploadRequest{
			Filename: "big.bin",
			Data:     strings.NewReader(strings.Repeat("x", 4*testMaxBytes)),
			Size:     1,
			PIN:      "1234",
		})
		var qerr *QuotaError
		if !errors.As(err, &qerr) || qerr.Kind != QuotaFileSize {
			t.Errorf("expected file size quota, got %v", err)
		}
		if keys, _ := f.store.List(ctx); len(keys) != 0 {
			t.Errorf("expected partial blob to be removed, got %v", keys)
		}
	})

	t.Run("file at the limit accepted", func(t *testing.T) {
		f := setup(t)
		alice := f.user(t, "alice")
		f.upload(t, alice, "exact.bin", strings.Repeat("x", testMaxBytes))
	})

	t.Run("admin bypasses the size limit", func(t *testing.T) {
		f := setup(t)
		res := f.upload(t, f.admin(), "big.bin", strings.Repeat("x", 4*testMaxBytes))
		if res.Size != 4*testMaxBytes {
			t.Errorf("expected %d bytes, got %d", 4*testMaxBytes, res.Size)
		}
	})
}

func TestFileService_TokenCollision(t *testing.T) {
	ctx := context.Background()

	t.Run("reissues on collision", func(t *testing.T) {
		f := setup(t)
		alice := f.user(t, "alice")

		// The first two draws repeat; the third differs.
		calls := 0
		f.files.tokens = &TokenIssuer{read: func(b []byte) (int, error) {
			calls++
			fill := byte('a')
			if calls > 2 {
				fill = 'b'
			}
			for i := range b {
				b[i] = fill
			}
			return len(b), nil
		}}

		a := f.upload(t, alice, "a.txt", "x")
		b := f.upload(t, alice, "b.txt", "y")
		if a.Token == b.Token {
			t.Fatal("expected distinct tokens")
		}
		if calls != 3 {
			t.Errorf("expected 3 draws, got %d", calls)
		}
	})

	t.Run("gives up after repeated collisions", func(t *testing.T) {
		f := setup(t)
		alice := f.user(t, "alice")
		f.files.tokens = &TokenIssuer{read: func(b []byte) (int, error) {
			for i := range b {
				b[i] = 'a'
			}
			return len(b), nil
		}}

		f.upload(t, alice, "a.txt", "x")
		_, err := f.files.Upload(ctx, alice, UploadRequest{
			Filename: "b.txt",
			Data:     strings.NewReader("y"),
			PIN:      "1234",
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if keys, _ := f.store.List(ctx); len(keys) != 1 {
			t.Errorf("expected only the first blob, got %v", keys)
		}
	})
}

func TestFileService_Delete(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")

	t.Run("by another user", func(t *testing.T) {
		res := f.upload(t, alice, "a.txt", "x")
		if err := f.files.Delete(ctx, bob, res.Token); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("expected ErrPermissionDenied, got %v", err)
		}
		f.record(t, res.Token)
	})

	t.Run("by the owner", func(t *testing.T) {
		res := f.upload(t, alice, "b.txt", "x")
		key := f.record(t, res.Token).StoragePath

		if err := f.files.Delete(ctx, alice, res.Token); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := f.gate.Resolve(ctx, res.Token); !errors.Is(err, ErrTokenNotFound) {
			t.Errorf("expected ErrTokenNotFound, got %v", err)
		}
		if ok, _ := f.store.Exists(ctx, key); ok {
			t.Error("expected blob to be removed")
		}
	})

	t.Run("by the admin", func(t *testing.T) {
		res := f.upload(t, bob, "c.txt", "x")
		if err := f.files.Delete(ctx, f.admin(), res.Token); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		if err := f.files.Delete(ctx, alice, "missing"); !errors.Is(err, ErrTokenNotFound) {
			t.Errorf("expected ErrTokenNotFound, got %v", err)
		}
	})
}

func TestFileService_Listing(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")

	first := f.upload(t, alice, "first.txt", "1")
	second := f.upload(t, alice, "second.txt", "22")
	f.upload(t, bob, "bob.txt", "333")

	t.Run("own files newest first", func(t *testing.T) {
		files, err := f.files.ListMine(ctx, alice)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(files) != 2 || files[0].Token != second.Token || files[1].Token != first.Token {
			t.Errorf("unexpected listing: %+v", files)
		}
		if files[0].DownloadURL != second.DownloadURL {
			t.Errorf("expected download url %q, got %q", second.DownloadURL, files[0].DownloadURL)
		}
	})

	t.Run("all files is admin only", func(t *testing.T) {
		if _, err := f.files.ListAll(ctx, alice); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("expected ErrPermissionDenied, got %v", err)
		}
		files, err := f.files.ListAll(ctx, f.admin())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(files) != 3 {
			t.Errorf("expected 3 files, got %d", len(files))
		}
	})

	t.Run("stats", func(t *testing.T) {
		if _, err := f.files.Stats(ctx, bob); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("expected ErrPermissionDenied, got %v", err)
		}
		if _, err := f.gate.Attempt(ctx, first.Token, "1234"); err != nil {
			t.Fatalf("download failed: %v", err)
		}

		stats, err := f.files.Stats(ctx, f.admin())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.TotalUsers != 3 || stats.TotalFiles != 3 || stats.TotalDownloads != 1 || stats.StorageUsed != 6 {
			t.Errorf("unexpected stats: %+v", stats)
		}
	})
}
