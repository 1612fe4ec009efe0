package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"pinshare/internal/server/database"
	"pinshare/internal/server/storage"
)

// FileInfo is what anyone holding a share link may learn before entering the PIN.
type FileInfo struct {
	Token              string    `json:"token"`
	Filename           string    `json:"filename"`
	Size               int64     `json:"size"`
	DownloadsRemaining int       `json:"downloads_remaining"`
	CreatedAt          time.Time `json:"created_at"`
}

// Download is a granted attempt. Data holds the whole blob; BlobDeleted is
// set when the attempt exhausted an auto-delete file.
type Download struct {
	Filename           string
	Data               []byte
	DownloadsRemaining int
	BlobDeleted        bool
}

// DownloadGate enforces PINs and download limits on share tokens.
type DownloadGate struct {
	repo  Repository
	store storage.Store
}

// NewDownloadGate creates a new DownloadGate.
func NewDownloadGate(repo Repository, store storage.Store) *DownloadGate {
	return &DownloadGate{repo: repo, store: store}
}

// Resolve reports whether token can still be downloaded.
func (g *DownloadGate) Resolve(ctx context.Context, token string) (*FileInfo, error) {
	f, err := g.repo.GetFile(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if f.Exhausted() {
		return nil, ErrLimitReached
	}
	return &FileInfo{
		Token:              f.Token,
		Filename:           f.Filename,
		Size:               f.Size,
		DownloadsRemaining: f.DownloadLimit - f.DownloadCount,
		CreatedAt:          f.CreatedAt,
	}, nil
}

// Attempt checks pin against the record and, on a match, consumes one
// download. The counter update, the blob read and an auto-delete all happen
// under the record's lock; a failed read rolls the counter back. The blob of
// an auto-deleted record is removed only after the transaction commits.
func (g *DownloadGate) Attempt(ctx context.Context, token, pin string) (*Download, error) {
	var (
		dl  *Download
		key string
	)
	err := g.repo.MutateFile(ctx, token, func(f *database.FileRecord) (database.Mutation, error) {
		m, err := admit(f, pin)
		if err != nil {
			return database.MutateNone, err
		}
		data, err := g.readBlob(ctx, f.StoragePath)
		if err != nil {
			return database.MutateNone, err
		}
		key = f.StoragePath
		dl = &Download{
			Filename:           f.Filename,
			Data:               data,
			DownloadsRemaining: f.DownloadLimit - f.DownloadCount,
			BlobDeleted:        m == database.MutateDelete,
		}
		return m, nil
	})
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			err = ErrTokenNotFound
		}
		downloadAttemptsTotal.WithLabelValues(attemptResult(err)).Inc()
		return nil, err
	}

	downloadAttemptsTotal.WithLabelValues("granted").Inc()
	slog.Info("download granted",
		"token", token,
		"filename", dl.Filename,
		"remaining", dl.DownloadsRemaining,
	)

	if dl.BlobDeleted {
		autoDeletesTotal.Inc()
		removeBlob(ctx, g.store, key)
		slog.Info("auto-deleted file after final download", "token", token, "filename", dl.Filename)
	}
	return dl, nil
}

// admit applies one attempt to the locked record and returns what to persist.
func admit(f *database.FileRecord, pin string) (database.Mutation, error) {
	if f.Exhausted() {
		return database.MutateNone, ErrLimitReached
	}
	if subtle.ConstantTimeCompare([]byte(f.PINCode), []byte(pin)) != 1 {
		return database.MutateNone, ErrWrongPIN
	}
	f.DownloadCount++
	if f.AutoDelete && f.Exhausted() {
		return database.MutateDelete, nil
	}
	return database.MutateSave, nil
}

func (g *DownloadGate) readBlob(ctx context.Context, key string) ([]byte, error) {
	rc, err := g.store.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorage, key, err)
	}
	return data, nil
}

func attemptResult(err error) string {
	switch {
	case errors.Is(err, ErrWrongPIN):
		return "wrong_pin"
	case errors.Is(err, ErrLimitReached):
		return "limit_reached"
	case errors.Is(err, ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "error"
	}
}

// removeBlob deletes a blob whose record is already gone. Failures are logged
// and counted; the caller's response does not depend on them.
func removeBlob(ctx context.Context, store storage.Store, key string) {
	if err := store.Delete(context.WithoutCancel(ctx), key); err != nil {
		blobRemoveFailuresTotal.Inc()
		slog.Error("failed to remove blob", "key", key, "error", err)
	}
}
