// Package auth resolves the caller identity of every API request. In
// production the identity is the subject of a bearer JWT, verified either
// with a shared HS256 key or against the identity provider's JWKS.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/pillara/pillara/internal/platform/apperr"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// DevUserHeader lets development clients pick the acting user without a
// token. It is ignored outside DevAuthMiddleware.
const DevUserHeader = "X-User-ID"

const DefaultDevUser = "dev-user"

type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HS256 verification; when empty tokens are verified
	// as RS256 against JWKSURL.
	SigningKey []byte
}

func unauthorized(msg string) error {
	return apperr.HTTPError(apperr.Unauthorized(msg))
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var jwks *JWKSCache
	if len(cfg.SigningKey) == 0 && cfg.JWKSURL != "" {
		jwks = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return unauthorized("missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return unauthorized("invalid authorization format")
			}

			claims, err := parseToken(c.Request().Context(), strings.TrimSpace(parts[1]), cfg, jwks)
			if err != nil {
				return unauthorized("invalid token")
			}
			if claims.Subject == "" {
				return unauthorized("token has no subject")
			}

			c.SetRequest(c.Request().WithContext(WithUserID(c.Request().Context(), claims.Subject)))
			return next(c)
		}
	}
}

func parseToken(ctx context.Context, tokenStr string, cfg JWTConfig, jwks *JWKSCache) (*Claims, error) {
	claims := &Claims{}
	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var keyFunc jwt.Keyfunc
	switch {
	case len(cfg.SigningKey) > 0:
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	case jwks != nil:
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
		keyFunc = jwks.keyFunc(ctx)
	default:
		return nil, fmt.Errorf("no verification key configured")
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}

// DevAuthMiddleware accepts unauthenticated requests in development. A
// request without a bearer token acts as the X-User-ID header value, or
// dev-user; a request with one is verified by verify when it is non-nil.
func DevAuthMiddleware(verify echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := next
		if verify != nil {
			verified = verify(next)
		}
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) != "" && verify != nil {
				return verified(c)
			}
			uid := strings.TrimSpace(c.Request().Header.Get(DevUserHeader))
			if uid == "" {
				uid = DefaultDevUser
			}
			c.SetRequest(c.Request().WithContext(WithUserID(c.Request().Context(), uid)))
			return next(c)
		}
	}
}

// IssueToken signs an HS256 token for subject. It backs the CLI token
// command used against development and staging deployments.
func IssueToken(cfg JWTConfig, subject string, ttl time.Duration) (string, error) {
	if len(cfg.SigningKey) == 0 {
		return "", fmt.Errorf("signing key is required")
	}
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
}

func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, UserIDKey, uid)
}

// UserIDFromContext returns the caller identity, or "" when none resolved.
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// CallerID is UserIDFromContext for handlers.
func CallerID(c echo.Context) string {
	return UserIDFromContext(c.Request().Context())
}
