package service

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Sentinel errors for the service layer.
var (
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrTokenNotFound      = errors.New("file not found")
	ErrLimitReached       = errors.New("download limit reached")
	ErrWrongPIN           = errors.New("wrong PIN")
	ErrStorage            = errors.New("storage failure")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserNotFound       = errors.New("user not found")
)

// QuotaKind names which quota an upload ran into.
type QuotaKind string

const (
	QuotaFileCount QuotaKind = "file_count"
	QuotaFileSize  QuotaKind = "file_size"
)

// QuotaError is returned for rejected uploads. It matches ErrQuotaExceeded.
type QuotaError struct {
	Kind  QuotaKind
	Limit int64
}

func (e *QuotaError) Error() string {
	switch e.Kind {
	case QuotaFileCount:
		return fmt.Sprintf("quota exceeded: at most %d files per account", e.Limit)
	case QuotaFileSize:
		return fmt.Sprintf("quota exceeded: file larger than %s", humanize.IBytes(uint64(e.Limit)))
	default:
		return "quota exceeded"
	}
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// invalid wraps ErrInvalidInput with a reason shown to the caller.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
