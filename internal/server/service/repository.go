package service

import (
	"context"

	"pinshare/internal/server/database"
)

// Repository is the credential and file record store the services run on.
// database.PostgresRepository and database.SQLiteRepository implement it.
type Repository interface {
	CreateUser(ctx context.Context, username, passwordHash string) error
	EnsureUser(ctx context.Context, username, passwordHash string) (bool, error)
	GetUser(ctx context.Context, username string) (*database.User, error)
	ListUsers(ctx context.Context) ([]*database.User, error)
	DeleteUser(ctx context.Context, username string) ([]string, error)

	CreateFile(ctx context.Context, f *database.FileRecord, maxFiles int) error
	GetFile(ctx context.Context, token string) (*database.FileRecord, error)
	CountFiles(ctx context.Context, uploader string) (int, error)
	ListFilesByUploader(ctx context.Context, uploader string) ([]*database.FileRecord, error)
	ListFiles(ctx context.Context) ([]*database.FileRecord, error)
	ListStoragePaths(ctx context.Context) ([]string, error)
	MutateFile(ctx context.Context, token string, fn database.MutateFunc) error

	GetStats(ctx context.Context) (*database.Stats, error)
	HealthCheck(ctx context.Context) error
}
