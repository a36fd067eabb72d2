package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/animgen/api/internal/auth"
	"github.com/animgen/api/pkg/response"
)

// UserClaims is an alias for auth.LegacyClaims for backwards compatibility
type UserClaims = auth.LegacyClaims

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier  auth.TokenVerifier
	jwtSecret string // fallback for legacy tokens
}

// NewAuthMiddleware creates a new auth middleware with Clerk JWKS verification
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// NewAuthMiddlewareWithFallback creates auth middleware with both JWKS and legacy HMAC support
func NewAuthMiddlewareWithFallback(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// NewLegacyAuthMiddleware creates auth middleware using only HMAC signing (for testing/dev)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
	}
}

// Authenticate validates the JWT token from the Authorization header and
// rejects requests without a valid token
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c)
		if !ok {
			return response.Unauthorized(c, "Missing or malformed authorization header")
		}

		if m.setClaims(c, tokenString) {
			return c.Next()
		}
		return response.Unauthorized(c, "Invalid or expired token")
	}
}

// OptionalAuthenticate resolves claims when a valid token is present but
// lets anonymous requests through. A present-but-invalid token is still
// rejected so a caller never silently loses their identity.
func (m *AuthMiddleware) OptionalAuthenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c)
		if !ok {
			return c.Next()
		}

		if m.setClaims(c, tokenString) {
			return c.Next()
		}
		return response.Unauthorized(c, "Invalid or expired token")
	}
}

// setClaims validates the token and stores the claims in request locals
func (m *AuthMiddleware) setClaims(c *fiber.Ctx, tokenString string) bool {
	if m.verifier != nil {
		claims, err := m.verifier.Validate(tokenString)
		if err == nil {
			c.Locals("userId", claims.UserID)
			c.Locals("email", claims.Email)
			c.Locals("name", claims.Name)
			c.Locals("claims", claims)
			return true
		}
		if m.jwtSecret == "" {
			return false
		}
	}

	if m.jwtSecret != "" {
		legacy, err := auth.ValidateLegacyToken(tokenString, m.jwtSecret)
		if err != nil {
			return false
		}
		c.Locals("userId", legacy.UserID)
		c.Locals("email", legacy.Email)
		// Normalized so handlers see one claims shape regardless of how
		// the token was verified.
		c.Locals("claims", &auth.Claims{
			UserID: legacy.UserID,
			Email:  legacy.Email,
		})
		return true
	}

	return false
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return parts[1], true
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}

// GetUserName extracts user name from context
func GetUserName(c *fiber.Ctx) string {
	if name, ok := c.Locals("name").(string); ok {
		return name
	}
	return ""
}

// GetClaims extracts the verified JWKS claims from context, if any
func GetClaims(c *fiber.Ctx) *auth.Claims {
	if claims, ok := c.Locals("claims").(*auth.Claims); ok {
		return claims
	}
	return nil
}

// GenerateToken creates a new legacy JWT token (useful for testing)
func (m *AuthMiddleware) GenerateToken(userID, email string) (string, error) {
	if m.jwtSecret == "" {
		return "", jwt.ErrTokenNotValidYet
	}

	claims := UserClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "animgen-api",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}
