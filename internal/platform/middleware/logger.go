package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger writes one access line per request. It hands handler errors to
// echo's error handler first so the logged status is the one the client
// receives.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			l := requestLogger(logger, c)
			l.WithLevel(accessLevel(c.Request().URL.Path, err)).
				Err(err).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}

// accessLevel keeps scrapes and probes out of the default log.
func accessLevel(path string, err error) zerolog.Level {
	switch {
	case err != nil:
		return zerolog.ErrorLevel
	case path == "/metrics", strings.HasPrefix(path, "/healthz"):
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
