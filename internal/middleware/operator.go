package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// HashOperatorKey produces the bcrypt hash stored in OPERATOR_KEY_HASH
func HashOperatorKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// RequireOperator guards internal endpoints with the X-Operator-Key header.
// With no hash configured every request is refused.
func RequireOperator(keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keyHash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "operator access is not configured"})
			return
		}
		key := c.GetHeader("X-Operator-Key")
		if key == "" || bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
			log.Printf("[AUTH] Rejected operator request from %s to %s", c.ClientIP(), c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid operator key"})
			return
		}
		c.Next()
	}
}
