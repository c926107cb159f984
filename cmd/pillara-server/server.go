package main

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/pillara/pillara/internal/config"
	"github.com/pillara/pillara/internal/domain/doselog"
	"github.com/pillara/pillara/internal/domain/medication"
	"github.com/pillara/pillara/internal/platform/auth"
	"github.com/pillara/pillara/internal/platform/db"
	"github.com/pillara/pillara/internal/platform/events"
	"github.com/pillara/pillara/internal/platform/metrics"
	"github.com/pillara/pillara/internal/platform/middleware"
)

const version = "0.1.0"

type serverDeps struct {
	store   *store
	logger  zerolog.Logger
	metrics *metrics.Metrics
	pub     events.Publisher
	loc     *time.Location
}

// newServer wires middleware, services and routes onto a fresh echo
// instance.
func newServer(cfg *config.Config, d serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(d.metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader, "If-Match", auth.DevUserHeader},
		ExposeHeaders: []string{"ETag", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(d.store.health))
	e.GET("/metrics", echo.WrapHandler(d.metrics.Handler()))

	jwtMW := auth.JWTMiddleware(jwtConfig(cfg))
	authMW := jwtMW
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtMW)
	}

	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
		rl.BurstSize = cfg.RateLimitBurst
	}

	api := e.Group("/api/v1", authMW, middleware.RateLimit(rl))

	medSvc := medication.NewService(d.store.meds)
	medSvc.SetPublisher(d.pub)
	medSvc.SetMetrics(d.metrics)
	medSvc.SetLogger(d.logger)
	medication.NewHandler(medSvc).RegisterRoutes(api)

	doseSvc := doselog.NewService(d.store.doses, d.store.meds, d.store.tx)
	doseSvc.SetLocation(d.loc)
	doseSvc.SetPublisher(d.pub)
	doseSvc.SetMetrics(d.metrics)
	doseSvc.SetLogger(d.logger)
	doselog.NewHandler(doseSvc).RegisterRoutes(api)

	return e
}
