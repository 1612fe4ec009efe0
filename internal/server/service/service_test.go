package service

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"pinshare/internal/server/config"
	"pinshare/internal/server/database"
	"pinshare/internal/server/storage"

	"golang.org/x/crypto/bcrypt"
)

const (
	testAdmin    = "admin"
	testMaxBytes = 1024
)

// fixture wires the services to a real SQLite database and a filesystem
// blob store, both under t.TempDir.
type fixture struct {
	repo     *database.SQLiteRepository
	store    *storage.FileSystemStore
	accounts *AccountService
	files    *FileService
	gate     *DownloadGate
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	db, err := database.OpenSQLite(ctx, filepath.Join(dir, "pinshare.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := storage.NewFileSystemStore(filepath.Join(dir, "uploads"))
	if err := store.EnsureDir(ctx); err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	cfg := config.Default()
	cfg.AdminUsername = testAdmin
	cfg.BaseURL = "http://share.test"
	cfg.BcryptCost = bcrypt.MinCost
	cfg.MaxFileSize = testMaxBytes

	repo := database.NewSQLiteRepository(db)
	accounts, err := NewAccountService(repo, store, cfg)
	if err != nil {
		t.Fatalf("failed to create account service: %v", err)
	}
	f := &fixture{
		repo:     repo,
		store:    store,
		accounts: accounts,
		files:    NewFileService(repo, store, cfg),
		gate:     NewDownloadGate(repo, store),
	}
	if _, err := f.accounts.EnsureAdmin(ctx, "admin-secret"); err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}
	return f
}

// user registers username and returns its identity.
func (f *fixture) user(t *testing.T, username string) Identity {
	t.Helper()
	if err := f.accounts.Register(context.Background(), username, "password"); err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	return f.accounts.IdentityFor(username)
}

func (f *fixture) admin() Identity {
	return f.accounts.IdentityFor(testAdmin)
}

// upload shares content under name with PIN "1234".
func (f *fixture) upload(t *testing.T, id Identity, name, content string) *UploadResult {
	t.Helper()
	res, err := f.files.Upload(context.Background(), id, UploadRequest{
		Filename: name,
		Data:     strings.NewReader(content),
		Size:     int64(len(content)),
		PIN:      "1234",
	})
	if err != nil {
		t.Fatalf("upload %s failed: %v", name, err)
	}
	return res
}

// uploadLimited is an admin upload with explicit download settings.
func (f *fixture) uploadLimited(t *testing.T, limit int, autoDelete bool) *UploadResult {
	t.Helper()
	res, err := f.files.Upload(context.Background(), f.admin(), UploadRequest{
		Filename:      "report.pdf",
		Data:          strings.NewReader("pdf bytes"),
		Size:          9,
		PIN:           "1234",
		DownloadLimit: &limit,
		AutoDelete:    autoDelete,
	})
	if err != nil {
		t.Fatalf("admin upload failed: %v", err)
	}
	return res
}

func (f *fixture) record(t *testing.T, token string) *database.FileRecord {
	t.Helper()
	rec, err := f.repo.GetFile(context.Background(), token)
	if err != nil {
		t.Fatalf("failed to load %s: %v", token, err)
	}
	return rec
}
