package service

import (
	"errors"
	"strings"
	"testing"
)

func TestTokenIssuer(t *testing.T) {
	ti := NewTokenIssuer()

	t.Run("no collisions over 10000 tokens", func(t *testing.T) {
		seen := make(map[string]bool, 10000)
		for i := 0; i < 10000; i++ {
			token, err := ti.Issue()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seen[token] {
				t.Fatalf("duplicate token after %d issues: %s", i, token)
			}
			seen[token] = true
		}
	})

	t.Run("URL-safe and fixed length", func(t *testing.T) {
		const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"
		token, err := ti.Issue()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(token) != 16 {
			t.Errorf("expected 16 characters, got %d", len(token))
		}
		for _, c := range token {
			if !strings.ContainsRune(charset, c) {
				t.Errorf("token contains invalid character: %c", c)
			}
		}
	})

	t.Run("entropy failure", func(t *testing.T) {
		broken := &TokenIssuer{read: func([]byte) (int, error) { return 0, errors.New("no entropy") }}
		if _, err := broken.Issue(); err == nil {
			t.Error("expected error")
		}
	})
}

func TestQuotaPolicy(t *testing.T) {
	p := QuotaPolicy{
		MaxFiles:             5,
		MaxFileSize:          5 << 20,
		DefaultDownloadLimit: 5,
		MaxDownloadLimit:     100,
		MinPINLength:         4,
	}
	alice := Identity{Username: "alice"}
	admin := Identity{Username: "admin", Admin: true}

	t.Run("check upload", func(t *testing.T) {
		if err := p.CheckUpload(alice, 4, 5<<20); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		var qerr *QuotaError
		if err := p.CheckUpload(alice, 5, 1); !errors.As(err, &qerr) || qerr.Kind != QuotaFileCount {
			t.Errorf("expected file count quota, got %v", err)
		}
		if err := p.CheckUpload(alice, 0, 5<<20+1); !errors.As(err, &qerr) || qerr.Kind != QuotaFileSize {
			t.Errorf("expected file size quota, got %v", err)
		}
		if err := p.CheckUpload(admin, 500, 1<<40); err != nil {
			t.Errorf("admin: unexpected error: %v", err)
		}
	})

	t.Run("quota messages", func(t *testing.T) {
		size := &QuotaError{Kind: QuotaFileSize, Limit: 5 << 20}
		if !strings.Contains(size.Error(), "5.0 MiB") {
			t.Errorf("unexpected message %q", size.Error())
		}
		if !errors.Is(size, ErrQuotaExceeded) {
			t.Error("expected QuotaError to match ErrQuotaExceeded")
		}
	})

	t.Run("limits", func(t *testing.T) {
		if p.FileLimit(alice) != 5 || p.SizeLimit(alice) != 5<<20 {
			t.Error("unexpected standard limits")
		}
		if p.FileLimit(admin) != 0 || p.SizeLimit(admin) != 0 {
			t.Error("expected admin to be unlimited")
		}
	})

	t.Run("download settings", func(t *testing.T) {
		one := 1
		limit, auto, err := p.DownloadSettings(alice, &one, true)
		if err != nil || limit != 5 || auto {
			t.Errorf("standard user: got %d %v %v", limit, auto, err)
		}
		limit, auto, err = p.DownloadSettings(admin, &one, true)
		if err != nil || limit != 1 || !auto {
			t.Errorf("admin: got %d %v %v", limit, auto, err)
		}
		limit, _, err = p.DownloadSettings(admin, nil, false)
		if err != nil || limit != 5 {
			t.Errorf("admin default: got %d %v", limit, err)
		}
		tooMany := 101
		if _, _, err := p.DownloadSettings(admin, &tooMany, false); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("PIN length", func(t *testing.T) {
		if err := p.CheckPIN("123"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := p.CheckPIN("1234"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if err := p.CheckPIN("пин!"); err != nil {
			t.Errorf("four runes should pass: %v", err)
		}
	})
}
