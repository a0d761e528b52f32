// README: Firebase bearer-token auth middleware; the caller id is the token uid.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"carpool/internal/infra"
	"carpool/internal/types"
)

const callerUIDKey = "caller_uid"

func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "code": "unauthenticated"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "unauthenticated"})
			return
		}
		c.Set(callerUIDKey, token.UID)
		c.Next()
	}
}

// CallerUID returns the authenticated user, or "" outside Auth.
func CallerUID(c *gin.Context) types.ID {
	return types.ID(c.GetString(callerUIDKey))
}
