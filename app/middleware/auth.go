package middleware

import (
	"net/http"
	"strings"

	"github.com/bytecinema/cinema-auth/app/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type accessTokenParser interface {
	ParseAccessToken(tokenString string) (*service.AccessClaims, error)
}

type AuthMiddleware struct {
	tokens accessTokenParser
}

func NewAuthMiddleware(tokens accessTokenParser) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireAuth verifies the Bearer access token and places the caller's
// identity into the request context. Handlers read it from there; nothing
// resolves identity through ambient state.
func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := m.parse(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid or expired token",
			})
		}

		setIdentity(c, claims)
		return next(c)
	}
}

// OptionalAuth sets identity when a valid Bearer token is present and lets the
// request through either way. Used by the permissive account read.
func (m *AuthMiddleware) OptionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if claims, ok := m.parse(c); ok {
			setIdentity(c, claims)
		}
		return next(c)
	}
}

func (m *AuthMiddleware) parse(c echo.Context) (*service.AccessClaims, bool) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return nil, false
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		logrus.Debug("Invalid authorization header format")
		return nil, false
	}

	claims, err := m.tokens.ParseAccessToken(parts[1])
	if err != nil {
		logrus.Debug("Invalid or expired access token")
		return nil, false
	}

	return claims, true
}

func setIdentity(c echo.Context, claims *service.AccessClaims) {
	c.Set("user_id", claims.UserID)
	c.Set("user_email", claims.Email)
	c.Set("user_name", claims.Name)
}
