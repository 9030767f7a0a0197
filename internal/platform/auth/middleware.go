package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const AccountIDKey contextKey = "account_id"

var ErrNoAccount = errors.New("no authenticated account in context")

type Claims struct {
	jwt.RegisteredClaims
}

// Middleware validates the bearer token on every request and resolves the
// account it belongs to. Tokens are HS256-signed with the shared secret and
// carry the account id in the subject claim.
func Middleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			accountID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject claim")
			}

			// String copy on the echo context for request logging
			c.Set("account_id", accountID.String())

			ctx := context.WithValue(c.Request().Context(), AccountIDKey, accountID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// DevMiddleware authenticates every request as the given account so the API
// can be exercised without a token. Development only.
func DevMiddleware(accountID uuid.UUID) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("account_id", accountID.String())
			ctx := context.WithValue(c.Request().Context(), AccountIDKey, accountID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// AccountID extracts the authenticated account from the request.
func AccountID(c echo.Context) (uuid.UUID, error) {
	id, ok := AccountIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, ErrNoAccount
	}
	return id, nil
}

// AccountIDFromContext extracts the authenticated account from a context.
func AccountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(AccountIDKey).(uuid.UUID)
	return id, ok
}
