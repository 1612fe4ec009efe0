package database

import (
	"errors"
	"time"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrTokenTaken   = errors.New("token already in use")
	ErrFileQuota    = errors.New("file count quota reached")
)

// User is a registered account. PasswordHash is a bcrypt hash.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// FileRecord is the metadata of one shared file.
type FileRecord struct {
	Token         string
	Filename      string
	StoragePath   string
	PINCode       string
	DownloadLimit int
	DownloadCount int
	AutoDelete    bool
	Uploader      string
	Size          int64
	CreatedAt     time.Time
}

// Exhausted reports whether no downloads remain.
func (f *FileRecord) Exhausted() bool {
	return f.DownloadCount >= f.DownloadLimit
}

// Mutation tells MutateFile what to persist once its callback returns.
type Mutation int

const (
	// MutateNone leaves the record untouched.
	MutateNone Mutation = iota
	// MutateSave persists the record's DownloadCount.
	MutateSave
	// MutateDelete removes the record.
	MutateDelete
)

// MutateFunc inspects a locked record and decides what to persist. Returning an
// error rolls the transaction back.
type MutateFunc func(f *FileRecord) (Mutation, error)

// Stats holds aggregate statistics for the admin view.
type Stats struct {
	TotalUsers     int64
	TotalFiles     int64
	TotalDownloads int64
	StorageUsed    int64
}
