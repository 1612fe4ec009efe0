package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const fileColumns = `token, filename, storage_path, pin_code, download_limit,
	download_count, auto_delete, uploader, size, created_at`

// PostgresRepository provides the credential and file record stores on Postgres.
type PostgresRepository struct {
	db *DB
}

// NewRepository creates a new PostgresRepository.
func NewRepository(db *DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateUser inserts a new account.
func (r *PostgresRepository) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := r.db.Pool.Exec(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2)",
		username, passwordHash,
	)
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// EnsureUser inserts the account unless it already exists and reports whether it was created.
func (r *PostgresRepository) EnsureUser(ctx context.Context, username, passwordHash string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) ON CONFLICT (username) DO NOTHING",
		username, passwordHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure user: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetUser retrieves an account by exact username.
func (r *PostgresRepository) GetUser(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := r.db.Pool.QueryRow(ctx,
		"SELECT username, password_hash, created_at FROM users WHERE username = $1",
		username,
	).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers returns all accounts ordered by username.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT username, password_hash, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes an account together with its file records and returns
// the storage paths those records pointed at.
func (r *PostgresRepository) DeleteUser(ctx context.Context, username string) ([]string, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		"SELECT storage_path FROM files WHERE uploader = $1 FOR UPDATE", username)
	if err != nil {
		return nil, fmt.Errorf("failed to query user files: %w", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan user files: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM files WHERE uploader = $1", username); err != nil {
		return nil, fmt.Errorf("failed to delete user files: %w", err)
	}
	tag, err := tx.Exec(ctx, "DELETE FROM users WHERE username = $1", username)
	if err != nil {
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrUserNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit user deletion: %w", err)
	}
	return paths, nil
}

// CreateFile inserts a file record. When maxFiles is positive the uploader's
// row is locked and the insert is refused with ErrFileQuota once the uploader
// already holds maxFiles records.
func (r *PostgresRepository) CreateFile(ctx context.Context, f *FileRecord, maxFiles int) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var owner string
	err = tx.QueryRow(ctx,
		"SELECT username FROM users WHERE username = $1 FOR UPDATE", f.Uploader,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to lock uploader: %w", err)
	}

	if maxFiles > 0 {
		var count int
		if err := tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM files WHERE uploader = $1", f.Uploader,
		).Scan(&count); err != nil {
			return fmt.Errorf("failed to count files: %w", err)
		}
		if count >= maxFiles {
			return ErrFileQuota
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		f.Token,
		f.Filename,
		f.StoragePath,
		f.PINCode,
		f.DownloadLimit,
		f.DownloadCount,
		f.AutoDelete,
		f.Uploader,
		f.Size,
		f.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return ErrTokenTaken
		}
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit file: %w", err)
	}
	return nil
}

// GetFile retrieves a file record by token.
func (r *PostgresRepository) GetFile(ctx context.Context, token string) (*FileRecord, error) {
	f, err := scanFile(r.db.Pool.QueryRow(ctx,
		"SELECT "+fileColumns+" FROM files WHERE token = $1", token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// CountFiles returns how many records the uploader holds.
func (r *PostgresRepository) CountFiles(ctx context.Context, uploader string) (int, error) {
	var count int
	if err := r.db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM files WHERE uploader = $1", uploader,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return count, nil
}

// ListFilesByUploader returns the uploader's records, newest first.
func (r *PostgresRepository) ListFilesByUploader(ctx context.Context, uploader string) ([]*FileRecord, error) {
	return r.queryFiles(ctx,
		"SELECT "+fileColumns+" FROM files WHERE uploader = $1 ORDER BY created_at DESC, id DESC",
		uploader)
}

// ListFiles returns every record, newest first.
func (r *PostgresRepository) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	return r.queryFiles(ctx,
		"SELECT "+fileColumns+" FROM files ORDER BY created_at DESC, id DESC")
}

// ListStoragePaths returns the storage path of every record.
func (r *PostgresRepository) ListStoragePaths(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT storage_path FROM files")
	if err != nil {
		return nil, fmt.Errorf("failed to query storage paths: %w", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan storage paths: %w", err)
	}
	return paths, nil
}

// MutateFile locks the record with SELECT ... FOR UPDATE, hands it to fn and
// persists fn's decision in the same transaction.
func (r *PostgresRepository) MutateFile(ctx context.Context, token string, fn MutateFunc) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	f, err := scanFile(tx.QueryRow(ctx,
		"SELECT "+fileColumns+" FROM files WHERE token = $1 FOR UPDATE", token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrFileNotFound
		}
		return fmt.Errorf("failed to lock file: %w", err)
	}

	m, err := fn(f)
	if err != nil {
		return err
	}

	switch m {
	case MutateSave:
		if _, err := tx.Exec(ctx,
			"UPDATE files SET download_count = $2 WHERE token = $1",
			token, f.DownloadCount,
		); err != nil {
			return fmt.Errorf("failed to update download count: %w", err)
		}
	case MutateDelete:
		if _, err := tx.Exec(ctx, "DELETE FROM files WHERE token = $1", token); err != nil {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	default:
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit file mutation: %w", err)
	}
	return nil
}

// GetStats returns aggregate statistics.
func (r *PostgresRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			COUNT(*),
			COALESCE(SUM(download_count), 0),
			COALESCE(SUM(size), 0)
		FROM files
	`).Scan(
		&stats.TotalUsers,
		&stats.TotalFiles,
		&stats.TotalDownloads,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// HealthCheck pings the pool.
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func (r *PostgresRepository) queryFiles(ctx context.Context, query string, args ...any) ([]*FileRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func scanFile(row pgx.Row) (*FileRecord, error) {
	f := &FileRecord{}
	err := row.Scan(
		&f.Token,
		&f.Filename,
		&f.StoragePath,
		&f.PINCode,
		&f.DownloadLimit,
		&f.DownloadCount,
		&f.AutoDelete,
		&f.Uploader,
		&f.Size,
		&f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
