package api

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"pinshare/internal/server/auth"
	"pinshare/internal/server/service"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether the record store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the pinshare API.
type Handler struct {
	accounts *service.AccountService
	files    *service.FileService
	gate     *service.DownloadGate
	issuer   *auth.Issuer
	health   HealthChecker
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(
	accounts *service.AccountService,
	files *service.FileService,
	gate *service.DownloadGate,
	issuer *auth.Issuer,
	health HealthChecker,
) *Handler {
	return &Handler{
		accounts: accounts,
		files:    files,
		gate:     gate,
		issuer:   issuer,
		health:   health,
	}
}

type credentials struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type pinRequest struct {
	PIN string `json:"pin_code" form:"pin_code"`
}

// HandleRegister handles POST /api/register.
func (h *Handler) HandleRegister(c echo.Context) error {
	var req credentials
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.accounts.Register(c.Request().Context(), req.Username, req.Password); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"message":  "account created",
		"username": req.Username,
	})
}

// HandleLogin handles POST /api/login.
// Returns a bearer token for the Authorization header of later requests.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req credentials
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	id, err := h.accounts.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}

	token, expires, err := h.issuer.Issue(id.Username)
	if err != nil {
		slog.Error("failed to issue token", "username", id.Username, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
		"username":   id.Username,
		"admin":      id.Admin,
	})
}

// HandleUpload handles POST /api/files.
// Accepts a multipart form with "file" and "pin_code"; the admin may also
// send "download_limit" and "auto_delete".
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	id := identity(c)

	// Download settings are chosen by the admin only; anyone else gets the
	// defaults whatever they send.
	var (
		limit      *int
		autoDelete bool
	)
	if id.Admin {
		if raw := c.FormValue("download_limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "download_limit must be an integer"})
			}
			limit = &n
		}
		autoDelete, err = formBool(c.FormValue("auto_delete"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "auto_delete must be a boolean"})
		}
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	result, err := h.files.Upload(c.Request().Context(), id, service.UploadRequest{
		Filename:      fileHeader.Filename,
		Data:          src,
		Size:          fileHeader.Size,
		PIN:           c.FormValue("pin_code"),
		DownloadLimit: limit,
		AutoDelete:    autoDelete,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleListFiles handles GET /api/files.
func (h *Handler) HandleListFiles(c echo.Context) error {
	files, err := h.files.ListMine(c.Request().Context(), identity(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"files": files})
}

// HandleDeleteFile handles DELETE /api/files/:token.
func (h *Handler) HandleDeleteFile(c echo.Context) error {
	if err := h.files.Delete(c.Request().Context(), identity(c), c.Param("token")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "file deleted"})
}

// HandleResolve handles GET /f/:token.
// Tells the recipient what the link points at without asking for the PIN.
func (h *Handler) HandleResolve(c echo.Context) error {
	info, err := h.gate.Resolve(c.Request().Context(), c.Param("token"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleAttempt handles POST /f/:token.
// Serves the file as an attachment when "pin_code" matches.
func (h *Handler) HandleAttempt(c echo.Context) error {
	var req pinRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	dl, err := h.gate.Attempt(c.Request().Context(), c.Param("token"), req.PIN)
	if err != nil {
		return mapServiceError(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	res.Header().Set("X-Downloads-Remaining", strconv.Itoa(dl.DownloadsRemaining))
	return c.Blob(http.StatusOK, contentType(dl.Filename), dl.Data)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"
	code := http.StatusOK

	if err := h.health.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = "error: " + err.Error()
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/admin/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.files.Stats(c.Request().Context(), identity(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_users":        stats.TotalUsers,
		"total_files":        stats.TotalFiles,
		"total_downloads":    stats.TotalDownloads,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanize.IBytes(uint64(stats.StorageUsed)),
	})
}

// HandleAdminFiles handles GET /api/admin/files.
func (h *Handler) HandleAdminFiles(c echo.Context) error {
	files, err := h.files.ListAll(c.Request().Context(), identity(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"files": files})
}

// HandleAdminUsers handles GET /api/admin/users.
func (h *Handler) HandleAdminUsers(c echo.Context) error {
	users, err := h.accounts.ListUsers(c.Request().Context(), identity(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": users})
}

// HandleAdminDeleteUser handles DELETE /api/admin/users/:username.
func (h *Handler) HandleAdminDeleteUser(c echo.Context) error {
	removed, err := h.accounts.DeleteUser(c.Request().Context(), identity(c), c.Param("username"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":       "user deleted",
		"files_removed": removed,
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	var qerr *service.QuotaError
	switch {
	case errors.As(err, &qerr):
		status := http.StatusTooManyRequests
		if qerr.Kind == service.QuotaFileSize {
			status = http.StatusRequestEntityTooLarge
		}
		return c.JSON(status, echo.Map{"error": qerr.Error(), "quota": string(qerr.Kind)})
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid username or password"})
	case errors.Is(err, service.ErrWrongPIN):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "wrong PIN"})
	case errors.Is(err, service.ErrPermissionDenied):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrTokenNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, service.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	case errors.Is(err, service.ErrDuplicateUsername):
		return c.JSON(http.StatusConflict, echo.Map{"error": "username already taken"})
	case errors.Is(err, service.ErrLimitReached):
		return c.JSON(http.StatusGone, echo.Map{"error": "download limit reached"})
	case errors.Is(err, service.ErrStorage):
		slog.Error("storage failure", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "storage failure"})
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// formBool accepts strconv.ParseBool values plus the "on" an HTML checkbox sends.
func formBool(s string) (bool, error) {
	switch s {
	case "":
		return false, nil
	case "on":
		return true, nil
	}
	return strconv.ParseBool(s)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return echo.MIMEOctetStream
}
