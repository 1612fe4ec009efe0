package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"pinshare/internal/server/config"
	"pinshare/internal/server/database"
	"pinshare/internal/server/storage"

	"golang.org/x/crypto/bcrypt"
)

const (
	maxUsernameLen = 64
	// bcrypt ignores input past 72 bytes; longer passwords are refused.
	maxPasswordBytes = 72
)

// UserSummary is a user as listed in the admin view.
type UserSummary struct {
	Username  string    `json:"username"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountService handles registration, credential checks and user removal.
type AccountService struct {
	repo          Repository
	store         storage.Store
	adminUsername string
	cost          int
	dummyHash     []byte
}

// NewAccountService creates a new AccountService. It fails when cfg.BcryptCost
// is outside the range bcrypt accepts.
func NewAccountService(repo Repository, store storage.Store, cfg *config.Config) (*AccountService, error) {
	// Compared against when the username is unknown, so a miss costs as
	// much as a wrong password.
	dummy, err := bcrypt.GenerateFromPassword([]byte("pinshare-dummy-password"), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("invalid bcrypt cost %d: %w", cfg.BcryptCost, err)
	}
	return &AccountService{
		repo:          repo,
		store:         store,
		adminUsername: cfg.AdminUsername,
		cost:          cfg.BcryptCost,
		dummyHash:     dummy,
	}, nil
}

// IdentityFor derives the caller's role from the username.
func (s *AccountService) IdentityFor(username string) Identity {
	return Identity{Username: username, Admin: username == s.adminUsername}
}

// Register creates a standard account.
func (s *AccountService) Register(ctx context.Context, username, password string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	if password == "" {
		return invalid("password is required")
	}
	if len(password) > maxPasswordBytes {
		return invalid("password must be at most %d bytes", maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.CreateUser(ctx, username, string(hash)); err != nil {
		if errors.Is(err, database.ErrUserExists) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", "username", username)
	return nil
}

// Authenticate verifies a username and password pair.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	user, err := s.repo.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return s.IdentityFor(user.Username), nil
}

// Lookup returns the identity of an existing account. A bearer token whose
// user has since been deleted fails here with ErrInvalidCredentials.
func (s *AccountService) Lookup(ctx context.Context, username string) (Identity, error) {
	if _, err := s.repo.GetUser(ctx, username); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("failed to load user: %w", err)
	}
	return s.IdentityFor(username), nil
}

// EnsureAdmin seeds the reserved admin account if it is absent. It reports
// whether the account was created.
func (s *AccountService) EnsureAdmin(ctx context.Context, password string) (bool, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return false, fmt.Errorf("failed to hash admin password: %w", err)
	}
	created, err := s.repo.EnsureUser(ctx, s.adminUsername, string(hash))
	if err != nil {
		return false, fmt.Errorf("failed to seed admin account: %w", err)
	}
	if created {
		slog.Info("admin account created", "username", s.adminUsername)
		if password == config.DefaultAdminPassword {
			slog.Warn("admin account uses the default password; set ADMIN_PASSWORD")
		}
	}
	return created, nil
}

// ListUsers returns every account. Admin only.
func (s *AccountService) ListUsers(ctx context.Context, id Identity) ([]UserSummary, error) {
	if !id.Admin {
		return nil, ErrPermissionDenied
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, UserSummary{
			Username:  u.Username,
			Admin:     u.Username == s.adminUsername,
			CreatedAt: u.CreatedAt,
		})
	}
	return out, nil
}

// DeleteUser removes an account together with all of its files and returns
// how many files went with it. Admin only; the admin account itself is kept.
func (s *AccountService) DeleteUser(ctx context.Context, id Identity, username string) (int, error) {
	if !id.Admin {
		return 0, ErrPermissionDenied
	}
	if username == s.adminUsername {
		return 0, fmt.Errorf("%w: the admin account cannot be deleted", ErrPermissionDenied)
	}

	paths, err := s.repo.DeleteUser(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to delete user: %w", err)
	}

	for _, p := range paths {
		removeBlob(ctx, s.store, p)
	}

	slog.Info("user deleted", "username", username, "files", len(paths), "by", id.Username)
	return len(paths), nil
}

func validateUsername(username string) error {
	if username == "" {
		return invalid("username is required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return invalid("username must be at most %d characters", maxUsernameLen)
	}
	if strings.IndexFunc(username, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return invalid("username must not contain whitespace")
	}
	return nil
}
