package api

import (
	"errors"
	"strings"
	"time"

	"housewatch/config"
	"housewatch/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// GenerateToken issues a signed operator session token valid for 24 hours
func GenerateToken(secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	})
	return token.SignedString([]byte(secret))
}

// ValidateToken verifies a token's signature and expiry
func ValidateToken(tokenString, secret string) error {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// AuthMiddleware gates mutating operations behind a bearer token
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return utils.UnauthorizedError("Missing authorization header", nil)
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if err := ValidateToken(tokenString, secret); err != nil {
			return utils.UnauthorizedError("Invalid or expired token", err)
		}
		return c.Next()
	}
}

// AuthHandler issues session tokens to the operator
type AuthHandler struct {
	config *config.Config
}

// NewAuthHandler creates an auth handler
func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{config: cfg}
}

// Login verifies the operator password and returns a session token
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("Invalid request", err)
	}
	if req.Password == "" {
		return utils.ValidationError("Password required", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(h.config.Auth.PasswordHash), []byte(req.Password)); err != nil {
		return utils.UnauthorizedError("Invalid credentials", nil)
	}

	token, err := GenerateToken(h.config.Auth.JWTSecret)
	if err != nil {
		return utils.InternalServerError("Failed to generate token", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"token":   token,
	})
}
