package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mykrex/dimeloc-backend/internal/service"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

type TokenParser interface {
	ParseToken(token string) (service.Identity, error)
}

// Auth enforces a bearer token and stores the caller identity in the context. A nil
// parser disables the check, which is how local setups without JWT_SECRET run.
func Auth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		if parser == nil {
			c.Next()
			return
		}
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			unauthorized(c, "Authorization header required")
			return
		}
		id, err := parser.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			unauthorized(c, "Invalid token")
			return
		}
		c.Set(ContextUserID, id.UserID)
		c.Set(ContextRole, id.Role)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}
