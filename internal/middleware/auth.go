package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/triadarena/backend/internal/identity"
)

// Context keys set by RequireAuth
const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
)

// TokenParser turns a bearer token into an identity
type TokenParser interface {
	Parse(token string) (identity.Identity, error)
}

// bearerToken reads the Authorization header, falling back to ?token= for
// websocket clients that cannot set headers
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

// RequireAuth validates the bearer JWT and stores the caller in the context
func RequireAuth(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		id, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ContextUserID, id.ID)
		c.Set(ContextUsername, id.Username)
		c.Next()
	}
}

// UserID returns the authenticated caller's id
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
