package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pillara/pillara/internal/platform/auth"
)

// Logger writes one line per request. A child logger carrying the request id
// is attached to the request context so handlers can log with
// zerolog.Ctx(ctx).
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			reqLog := logger.With().Str("request_id", rid).Logger()
			c.SetRequest(req.WithContext(reqLog.WithContext(req.Context())))

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}

			var evt *zerolog.Event
			switch {
			case status >= http.StatusInternalServerError:
				evt = reqLog.Error().Err(err)
				if he, ok := err.(*echo.HTTPError); ok && he.Internal != nil {
					evt = evt.AnErr("cause", he.Internal)
				}
			case status >= http.StatusBadRequest:
				evt = reqLog.Warn()
			default:
				evt = reqLog.Info()
			}

			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Str("user_id", auth.CallerID(c)).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
