package api

import (
	"pinshare/internal/server/config"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(h *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(Metrics())
	e.Use(RequestLogger())

	// One limiter for credential and upload endpoints. PIN entry is not limited.
	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	authed := RequireAuth(h.issuer, h.accounts)

	// Health & metrics
	e.GET("/health", h.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Accounts (rate-limited)
	e.POST("/api/register", h.HandleRegister, limiter.Middleware())
	e.POST("/api/login", h.HandleLogin, limiter.Middleware())

	// Own files
	files := e.Group("/api/files", authed)
	files.POST("", h.HandleUpload, limiter.Middleware(), middleware.BodyLimit(cfg.BodyLimit))
	files.GET("", h.HandleListFiles)
	files.DELETE("/:token", h.HandleDeleteFile)

	// Admin panel
	admin := e.Group("/api/admin", authed, RequireAdmin())
	admin.GET("/stats", h.HandleStats)
	admin.GET("/files", h.HandleAdminFiles)
	admin.GET("/users", h.HandleAdminUsers)
	admin.DELETE("/users/:username", h.HandleAdminDeleteUser)

	// Share links
	e.GET("/f/:token", h.HandleResolve)
	e.POST("/f/:token", h.HandleAttempt)

	return e
}
