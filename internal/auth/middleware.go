// Package auth guards the gateway endpoint. The policy engine decides what
// a request may do; this package only decides whether the caller may talk
// to the gateway at all.
package auth

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"dashgate/internal/config"
	"dashgate/internal/gateway"
)

// Middleware builds the request-authentication middleware for the
// configured mode. Mode "none" returns nil, meaning no middleware.
func Middleware(cfg config.AuthConfig) (fiber.Handler, error) {
	switch cfg.Mode {
	case "", "none":
		return nil, nil
	case "api_key":
		if cfg.APIKeyHash == "" {
			return nil, fmt.Errorf("auth mode api_key requires auth.api_key_hash")
		}
		return apiKeyMiddleware(cfg.APIKeyHash), nil
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("auth mode jwt requires auth.jwt_secret")
		}
		return jwtMiddleware(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.Mode)
	}
}

func apiKeyMiddleware(keyHash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-Api-Key")
		if key == "" {
			return gateway.UnauthorizedError("Missing API key")
		}
		if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
			return gateway.UnauthorizedError("Invalid API key")
		}
		return c.Next()
	}
}

func jwtMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return gateway.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return gateway.UnauthorizedError("Invalid auth header format")
		}

		if _, err := ParseToken(parts[1], secret); err != nil {
			return gateway.UnauthorizedError("Invalid or expired token")
		}
		return c.Next()
	}
}

// ParseToken validates an HS256 JWT and returns its registered claims.
func ParseToken(tokenStr, secret string) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
