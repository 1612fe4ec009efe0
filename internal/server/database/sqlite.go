package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteMigrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_users",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				username      TEXT    NOT NULL UNIQUE,
				password_hash TEXT    NOT NULL,
				created_at    INTEGER NOT NULL
			);
		`,
	},
	{
		Version: "000002_create_files",
		SQL: `
			CREATE TABLE IF NOT EXISTS files (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				token          TEXT    NOT NULL UNIQUE,
				filename       TEXT    NOT NULL,
				storage_path   TEXT    NOT NULL,
				pin_code       TEXT    NOT NULL,
				download_limit INTEGER NOT NULL CHECK (download_limit > 0),
				download_count INTEGER NOT NULL DEFAULT 0 CHECK (download_count <= download_limit),
				auto_delete    INTEGER NOT NULL DEFAULT 0,
				uploader       TEXT    NOT NULL REFERENCES users(username) ON DELETE CASCADE,
				size           INTEGER NOT NULL DEFAULT 0,
				created_at     INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_files_uploader_created ON files(uploader, created_at DESC);
		`,
	},
}

// SQLiteDB is a single-connection SQLite handle. Every statement and
// transaction is serialized through that one connection.
type SQLiteDB struct {
	*sql.DB
}

// OpenSQLite creates or opens the SQLite database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteDB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &SQLiteDB{DB: sqlDB}
	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("connected to database", "driver", "sqlite", "path", path)
	return db, nil
}

func (db *SQLiteDB) migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range sqliteMigrations {
		var count int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version,
		).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Version, err)
		}
		slog.Info("applied migration", "version", m.Version)
	}
	return nil
}

// SQLiteRepository provides the credential and file record stores on SQLite.
type SQLiteRepository struct {
	db *SQLiteDB
}

// NewSQLiteRepository creates a new SQLiteRepository.
func NewSQLiteRepository(db *SQLiteDB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateUser inserts a new account.
func (r *SQLiteRepository) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, passwordHash, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return ErrUserExists
		}
		return fmt.Errorf("create user %s: %w", username, err)
	}
	return nil
}

// EnsureUser inserts the account unless it already exists and reports whether it was created.
func (r *SQLiteRepository) EnsureUser(ctx context.Context, username, passwordHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, passwordHash, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("ensure user %s: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure user %s: %w", username, err)
	}
	return n == 1, nil
}

// GetUser retrieves an account by exact username.
func (r *SQLiteRepository) GetUser(ctx context.Context, username string) (*User, error) {
	u := &User{}
	var created int64
	err := r.db.QueryRowContext(ctx,
		"SELECT username, password_hash, created_at FROM users WHERE username = ?",
		username,
	).Scan(&u.Username, &u.PasswordHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

// ListUsers returns all accounts ordered by username.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT username, password_hash, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		var created int64
		if err := rows.Scan(&u.Username, &u.PasswordHash, &created); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = time.Unix(0, created).UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes an account together with its file records and returns
// the storage paths those records pointed at.
func (r *SQLiteRepository) DeleteUser(ctx context.Context, username string) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT storage_path FROM files WHERE uploader = ?", username)
	if err != nil {
		return nil, fmt.Errorf("query user files: %w", err)
	}
	paths, err := collectStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("scan user files: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE uploader = ?", username); err != nil {
		return nil, fmt.Errorf("delete user files: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return nil, fmt.Errorf("delete user %s: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit user deletion: %w", err)
	}
	return paths, nil
}

// CreateFile inserts a file record, refusing it with ErrFileQuota once the
// uploader already holds maxFiles records. Zero maxFiles means no bound.
func (r *SQLiteRepository) CreateFile(ctx context.Context, f *FileRecord, maxFiles int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE username = ?", f.Uploader,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check uploader: %w", err)
	}
	if exists == 0 {
		return ErrUserNotFound
	}

	if maxFiles > 0 {
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM files WHERE uploader = ?", f.Uploader,
		).Scan(&count); err != nil {
			return fmt.Errorf("count files: %w", err)
		}
		if count >= maxFiles {
			return ErrFileQuota
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		f.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return ErrTokenTaken
		}
		return fmt.Errorf("create file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit file: %w", err)
	}
	return nil
}

// GetFile retrieves a file record by token.
func (r *SQLiteRepository) GetFile(ctx context.Context, token string) (*FileRecord, error) {
	f, err := scanSQLiteFile(r.db.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE token = ?", token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

// CountFiles returns how many records uploader holds.
func (r *SQLiteRepository) CountFiles(ctx context.Context, uploader string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM files WHERE uploader = ?", uploader,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return count, nil
}

// ListFilesByUploader returns uploader's records, newest first.
func (r *SQLiteRepository) ListFilesByUploader(ctx context.Context, uploader string) ([]*FileRecord, error) {
	return r.queryFiles(ctx,
		"SELECT "+fileColumns+" FROM files WHERE uploader = ? ORDER BY created_at DESC, id DESC",
		uploader)
}

// ListFiles returns every record, newest first.
func (r *SQLiteRepository) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	return r.queryFiles(ctx,
		"SELECT "+fileColumns+" FROM files ORDER BY created_at DESC, id DESC")
}

// ListStoragePaths returns the blob keys of all records.
func (r *SQLiteRepository) ListStoragePaths(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT storage_path FROM files")
	if err != nil {
		return nil, fmt.Errorf("query storage paths: %w", err)
	}
	return collectStrings(rows)
}

// MutateFile runs fn against the record inside a transaction. The single
// connection makes the read-check-write sequence exclusive.
func (r *SQLiteRepository) MutateFile(ctx context.Context, token string, fn MutateFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	f, err := scanSQLiteFile(tx.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE token = ?", token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFileNotFound
		}
		return fmt.Errorf("load file: %w", err)
	}

	m, err := fn(f)
	if err != nil {
		return err
	}

	switch m {
	case MutateSave:
		if _, err := tx.ExecContext(ctx,
			"UPDATE files SET download_count = ? WHERE token = ?",
			f.DownloadCount, token,
		); err != nil {
			return fmt.Errorf("update download count: %w", err)
		}
	case MutateDelete:
		if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE token = ?", token); err != nil {
			return fmt.Errorf("delete file: %w", err)
		}
	default:
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit file mutation: %w", err)
	}
	return nil
}

// GetStats returns aggregate counters for the admin view.
func (r *SQLiteRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.QueryRowContext(ctx, `
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
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return stats, nil
}

// HealthCheck pings the database.
func (r *SQLiteRepository) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) queryFiles(ctx context.Context, query string, args ...any) ([]*FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanSQLiteFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFile(row rowScanner) (*FileRecord, error) {
	f := &FileRecord{}
	var created int64
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
		&created,
	)
	if err != nil {
		return nil, err
	}
	f.CreatedAt = time.Unix(0, created).UTC()
	return f, nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
