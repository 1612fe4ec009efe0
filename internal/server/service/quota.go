package service

import (
	"pinshare/internal/server/config"
)

// QuotaPolicy holds the per-role upload rules. Standard users are bounded by
// file count and size and always get the default download settings; the admin
// bypasses both bounds and chooses its own settings.
type QuotaPolicy struct {
	MaxFiles             int
	MaxFileSize          int64
	DefaultDownloadLimit int
	MaxDownloadLimit     int
	MinPINLength         int
}

// NewQuotaPolicy copies the quota settings out of cfg.
func NewQuotaPolicy(cfg *config.Config) QuotaPolicy {
	return QuotaPolicy{
		MaxFiles:             cfg.MaxFilesPerUser,
		MaxFileSize:          cfg.MaxFileSize,
		DefaultDownloadLimit: cfg.DefaultDownloadLimit,
		MaxDownloadLimit:     cfg.MaxDownloadLimit,
		MinPINLength:         cfg.MinPINLength,
	}
}

// CheckUpload returns nil when id may store one more file of fileSize bytes
// on top of the existing ones, or a *QuotaError.
func (p QuotaPolicy) CheckUpload(id Identity, existing int, fileSize int64) error {
	if id.Admin {
		return nil
	}
	if existing >= p.MaxFiles {
		return &QuotaError{Kind: QuotaFileCount, Limit: int64(p.MaxFiles)}
	}
	if fileSize > p.MaxFileSize {
		return &QuotaError{Kind: QuotaFileSize, Limit: p.MaxFileSize}
	}
	return nil
}

// FileLimit is the file-count bound enforced at insert time; zero means none.
func (p QuotaPolicy) FileLimit(id Identity) int {
	if id.Admin {
		return 0
	}
	return p.MaxFiles
}

// SizeLimit is the byte bound on a single upload; zero means none.
func (p QuotaPolicy) SizeLimit(id Identity) int64 {
	if id.Admin {
		return 0
	}
	return p.MaxFileSize
}

// DownloadSettings decides the download limit and auto-delete flag of a new
// file. Requested values only count for the admin.
func (p QuotaPolicy) DownloadSettings(id Identity, requestedLimit *int, requestedAutoDelete bool) (int, bool, error) {
	if !id.Admin {
		return p.DefaultDownloadLimit, false, nil
	}
	limit := p.DefaultDownloadLimit
	if requestedLimit != nil {
		limit = *requestedLimit
	}
	if limit < 1 || limit > p.MaxDownloadLimit {
		return 0, false, invalid("download limit must be between 1 and %d", p.MaxDownloadLimit)
	}
	return limit, requestedAutoDelete, nil
}

// CheckPIN validates the PIN chosen at upload time.
func (p QuotaPolicy) CheckPIN(pin string) error {
	if len([]rune(pin)) < p.MinPINLength {
		return invalid("PIN must be at least %d characters", p.MinPINLength)
	}
	return nil
}
