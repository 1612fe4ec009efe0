package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"pinshare/internal/server/config"
	"pinshare/internal/server/database"
	"pinshare/internal/server/filename"
	"pinshare/internal/server/storage"
)

// UploadRequest describes one file being shared. DownloadLimit and
// AutoDelete are only honoured for the admin.
type UploadRequest struct {
	Filename      string
	Data          io.Reader
	Size          int64
	PIN           string
	DownloadLimit *int
	AutoDelete    bool
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	Token         string `json:"token"`
	Filename      string `json:"filename"`
	Size          int64  `json:"size"`
	DownloadURL   string `json:"download_url"`
	DownloadLimit int    `json:"download_limit"`
	AutoDelete    bool   `json:"auto_delete"`
}

// FileSummary is a file as shown to its owner or the admin. The PIN is never
// included.
type FileSummary struct {
	Token         string    `json:"token"`
	Filename      string    `json:"filename"`
	Uploader      string    `json:"uploader"`
	Size          int64     `json:"size"`
	DownloadURL   string    `json:"download_url"`
	DownloadLimit int       `json:"download_limit"`
	DownloadCount int       `json:"download_count"`
	AutoDelete    bool      `json:"auto_delete"`
	CreatedAt     time.Time `json:"created_at"`
}

// FileService handles the owner side of shared files: upload, listing and
// deletion.
type FileService struct {
	repo    Repository
	store   storage.Store
	policy  QuotaPolicy
	tokens  *TokenIssuer
	baseURL string
}

// NewFileService creates a new FileService.
func NewFileService(repo Repository, store storage.Store, cfg *config.Config) *FileService {
	return &FileService{
		repo:    repo,
		store:   store,
		policy:  NewQuotaPolicy(cfg),
		tokens:  NewTokenIssuer(),
		baseURL: cfg.BaseURL,
	}
}

// Upload stores a file for id and returns its share link.
//
// The file count is checked twice: once up front so an over-quota upload is
// refused before its bytes are written, and again inside the insert
// transaction so concurrent uploads cannot overshoot it.
func (s *FileService) Upload(ctx context.Context, id Identity, req UploadRequest) (*UploadResult, error) {
	if err := s.policy.CheckPIN(req.PIN); err != nil {
		return nil, err
	}
	limit, autoDelete, err := s.policy.DownloadSettings(id, req.DownloadLimit, req.AutoDelete)
	if err != nil {
		return nil, err
	}

	if !id.Admin {
		existing, err := s.repo.CountFiles(ctx, id.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to count files: %w", err)
		}
		if err := s.policy.CheckUpload(id, existing, req.Size); err != nil {
			return nil, rejected(id, err)
		}
	}

	name := filename.Sanitize(req.Filename)

	// The declared size may lie; stop reading one byte past the limit.
	data := req.Data
	sizeLimit := s.policy.SizeLimit(id)
	if sizeLimit > 0 {
		data = io.LimitReader(data, sizeLimit+1)
	}

	key, n, err := s.store.SaveUnique(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if sizeLimit > 0 && n > sizeLimit {
		removeBlob(ctx, s.store, key)
		return nil, rejected(id, &QuotaError{Kind: QuotaFileSize, Limit: sizeLimit})
	}

	rec := &database.FileRecord{
		Filename:      name,
		StoragePath:   key,
		PINCode:       req.PIN,
		DownloadLimit: limit,
		AutoDelete:    autoDelete,
		Uploader:      id.Username,
		Size:          n,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.insert(ctx, id, rec); err != nil {
		removeBlob(ctx, s.store, key)
		return nil, err
	}

	uploadsTotal.Inc()
	slog.Info("file uploaded",
		"token", rec.Token,
		"filename", rec.Filename,
		"size", n,
		"uploader", id.Username,
		"download_limit", limit,
		"auto_delete", autoDelete,
	)

	return &UploadResult{
		Token:         rec.Token,
		Filename:      rec.Filename,
		Size:          n,
		DownloadURL:   s.DownloadURL(rec.Token),
		DownloadLimit: limit,
		AutoDelete:    autoDelete,
	}, nil
}

// insert mints a token and stores rec, retrying when the token is taken.
func (s *FileService) insert(ctx context.Context, id Identity, rec *database.FileRecord) error {
	maxFiles := s.policy.FileLimit(id)
	for i := 0; i < maxTokenAttempts; i++ {
		token, err := s.tokens.Issue()
		if err != nil {
			return err
		}
		rec.Token = token

		err = s.repo.CreateFile(ctx, rec, maxFiles)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, database.ErrTokenTaken):
			slog.Warn("token collision, reissuing", "attempt", i+1)
			continue
		case errors.Is(err, database.ErrFileQuota):
			return rejected(id, &QuotaError{Kind: QuotaFileCount, Limit: int64(maxFiles)})
		case errors.Is(err, database.ErrUserNotFound):
			return ErrPermissionDenied
		default:
			return fmt.Errorf("failed to save file record: %w", err)
		}
	}
	return fmt.Errorf("no unused token after %d attempts", maxTokenAttempts)
}

// DownloadURL is the public share link for token.
func (s *FileService) DownloadURL(token string) string {
	return s.baseURL + "/f/" + token
}

// ListMine returns the caller's own files, newest first.
func (s *FileService) ListMine(ctx context.Context, id Identity) ([]FileSummary, error) {
	files, err := s.repo.ListFilesByUploader(ctx, id.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return s.summaries(files), nil
}

// ListAll returns every file, newest first. Admin only.
func (s *FileService) ListAll(ctx context.Context, id Identity) ([]FileSummary, error) {
	if !id.Admin {
		return nil, ErrPermissionDenied
	}
	files, err := s.repo.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return s.summaries(files), nil
}

// Delete removes a file. Only its uploader or the admin may do so.
func (s *FileService) Delete(ctx context.Context, id Identity, token string) error {
	var key string
	err := s.repo.MutateFile(ctx, token, func(f *database.FileRecord) (database.Mutation, error) {
		if f.Uploader != id.Username && !id.Admin {
			return database.MutateNone, ErrPermissionDenied
		}
		key = f.StoragePath
		return database.MutateDelete, nil
	})
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return ErrTokenNotFound
		}
		return err
	}

	removeBlob(ctx, s.store, key)
	slog.Info("file deleted", "token", token, "by", id.Username)
	return nil
}

// Stats returns aggregate counters. Admin only.
func (s *FileService) Stats(ctx context.Context, id Identity) (*database.Stats, error) {
	if !id.Admin {
		return nil, ErrPermissionDenied
	}
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func (s *FileService) summaries(files []*database.FileRecord) []FileSummary {
	out := make([]FileSummary, 0, len(files))
	for _, f := range files {
		out = append(out, FileSummary{
			Token:         f.Token,
			Filename:      f.Filename,
			Uploader:      f.Uploader,
			Size:          f.Size,
			DownloadURL:   s.DownloadURL(f.Token),
			DownloadLimit: f.DownloadLimit,
			DownloadCount: f.DownloadCount,
			AutoDelete:    f.AutoDelete,
			CreatedAt:     f.CreatedAt,
		})
	}
	return out
}

// rejected records a quota rejection and returns err unchanged.
func rejected(id Identity, err error) error {
	var qerr *QuotaError
	if errors.As(err, &qerr) {
		uploadRejectionsTotal.WithLabelValues(string(qerr.Kind)).Inc()
		slog.Info("upload rejected", "username", id.Username, "reason", qerr.Error())
	}
	return err
}
