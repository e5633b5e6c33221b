package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"kvartal/market/internal/access"
	"kvartal/market/internal/auth"
	"kvartal/market/internal/models"
)

// ContextKeyPrincipal holds the access.Principal in Gin context.
const ContextKeyPrincipal = "principal"

// AuthMiddleware creates a Gin middleware for JWT authentication. Requests
// without a valid bearer token are rejected.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principalFromHeader(c, jwtSecret)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "valid bearer token required", "code": "unauthorized"})
			return
		}
		c.Set(ContextKeyPrincipal, p)
		c.Next()
	}
}

// OptionalAuthMiddleware resolves a principal when a valid token is present
// and falls back to the anonymous principal otherwise. Used on read routes
// where anonymous access to public spaces is allowed.
func OptionalAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := principalFromHeader(c, jwtSecret); ok {
			c.Set(ContextKeyPrincipal, p)
		} else {
			c.Set(ContextKeyPrincipal, access.Anonymous())
		}
		c.Next()
	}
}

func principalFromHeader(c *gin.Context, jwtSecret string) (access.Principal, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return access.Anonymous(), false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return access.Anonymous(), false
	}

	claims, err := auth.ValidateJWT(parts[1], jwtSecret)
	if err != nil {
		return access.Anonymous(), false
	}
	userID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return access.Anonymous(), false
	}
	return access.User(userID, models.UserRole(claims.Role)), true
}

// Principal returns the principal resolved by the auth middleware, or the
// anonymous principal when none was set.
func Principal(c *gin.Context) access.Principal {
	if v, exists := c.Get(ContextKeyPrincipal); exists {
		if p, ok := v.(access.Principal); ok {
			return p
		}
	}
	return access.Anonymous()
}
