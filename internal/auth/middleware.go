package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SubjectKey is the gin context key holding the verified token subject.
const SubjectKey = "auth.subject"

// RequireBearer rejects requests without a valid "Authorization: Bearer" token.
func RequireBearer(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		subject, err := tokens.Verify(strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}

		c.Set(SubjectKey, subject)
		c.Next()
	}
}

// Subject returns the subject stored by RequireBearer.
func Subject(c *gin.Context) string {
	return c.GetString(SubjectKey)
}
