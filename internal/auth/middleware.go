package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyOperator holds the authenticated operator name in the Gin
// request context.
const ContextKeyOperator = "operator"

// Middleware validates the Bearer token on protected routes.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		subject, err := m.Validate(parts[1])
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(ContextKeyOperator, subject)
		c.Next()
	}
}

// Operator extracts the authenticated operator from the Gin context.
func Operator(c *gin.Context) string {
	if v, ok := c.Get(ContextKeyOperator); ok {
		return v.(string)
	}
	return ""
}
