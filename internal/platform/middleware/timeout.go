package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on the request context. Store calls observe
// it, so an expired request aborts its transaction instead of committing
// late. A handler that fails because the deadline passed is answered with
// 504. A zero timeout disables the middleware.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return gatewayTimeout(err)
			}
			return err
		}
	}
}

func gatewayTimeout(cause error) error {
	he := echo.NewHTTPError(http.StatusGatewayTimeout, map[string]interface{}{
		"kind":    "timeout",
		"message": "request processing exceeded the allowed time limit",
	})
	he.Internal = cause
	return he
}
