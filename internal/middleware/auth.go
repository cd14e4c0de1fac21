package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callcore/pkg/jwt"
	"callcore/pkg/response"
)

// Auth validates the bearer token and stamps the caller's identity on the
// context. WebSocket clients may pass the token as a query parameter since
// browsers cannot set headers on the upgrade request.
func Auth(manager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c, "missing credential")
			c.Abort()
			return
		}

		claims, err := manager.ValidateToken(token)
		if err != nil {
			response.Unauthorized(c, "credential rejected")
			c.Abort()
			return
		}

		if claims.UserID == uuid.Nil {
			response.Unauthorized(c, "malformed credential")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
