package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit rejects request bodies larger than limit with 413. The limit is
// a size string such as "512K" or "1M"; a bare number is bytes.
func BodyLimit(limit string) echo.MiddlewareFunc {
	max := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > max {
				return payloadTooLarge(max)
			}
			// Content-Length may be absent or wrong; the reader enforces the
			// limit on the bytes actually read.
			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: max, limit: max}
			return next(c)
		}
	}
}

type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	limit     int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.exceeded {
		return 0, payloadTooLarge(r.limit)
	}
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		r.exceeded = true
		return 0, payloadTooLarge(r.limit)
	}
	return n, err
}

func payloadTooLarge(limit int64) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge, map[string]interface{}{
		"kind":    "validation",
		"message": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit),
	})
}

// parseLimit converts "10G", "1M", "512K" or a bare byte count to bytes,
// falling back to 1 MB when s is empty or malformed.
func parseLimit(s string) int64 {
	const fallback = 1 << 20
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n * multiplier
}
