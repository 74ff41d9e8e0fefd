package app

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/history/internal/automation"
	"github.com/ehr/history/internal/patient"
	"github.com/ehr/history/internal/platform/middleware"
	"github.com/ehr/history/internal/platform/websocket"
	"github.com/ehr/history/internal/section"
	"github.com/ehr/history/internal/timeline"
)

// ServerOptions configure the HTTP surface.
type ServerOptions struct {
	Logger      zerolog.Logger
	CORSOrigins []string
	BodyLimit   string
	RateLimit   middleware.RateLimitConfig
	// Health replaces the default /healthz handler, e.g. with a database
	// ping.
	Health  echo.HandlerFunc
	Version string
}

// NewServer builds the echo instance serving a.
func NewServer(a *Context, opts ServerOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(opts.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(opts.Logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: opts.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	health := opts.Health
	if health == nil {
		version := opts.Version
		health = func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
		}
	}
	e.GET("/healthz", health)
	if a.Metrics != nil {
		e.GET("/metrics", a.Metrics.Handler())
	}
	if a.Hub != nil {
		websocket.NewHandler(a.Hub, opts.CORSOrigins).RegisterRoutes(e.Group(""))
	}

	api := e.Group("/api/v1")
	api.Use(middleware.BodyLimit(opts.BodyLimit))
	rl := opts.RateLimit
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rl))

	patient.NewHandler(a.Patient).RegisterRoutes(api)
	section.NewHandler(a.Section, a.SectionKeys()).RegisterRoutes(api)
	timeline.NewHandler(a.Timeline).RegisterRoutes(api)
	automation.NewHandler(a.Automation).RegisterRoutes(api)
	NewHandler(a).RegisterRoutes(api)
	return e
}
