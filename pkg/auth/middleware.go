package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"airvend/pkg/ctxkeys"
)

// ServiceAuthMiddleware validates service-to-service auth tokens
func ServiceAuthMiddleware(expectedToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No authorization header"})
			c.Abort()
			return
		}

		// Extract Bearer token
		parts := strings.Split(auth, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			c.Abort()
			return
		}

		// Validate token
		if err := ValidateServiceToken(parts[1], expectedToken); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuthMiddleware validates JWT tokens for dashboard and portal sessions.
// On success the organization context is injected into the Gin context; every
// downstream handler scopes its queries by that org ID.
func JWTAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			// Browser clients typically use httpOnly cookies for auth.
			if cookieToken, err := c.Cookie("access_token"); err == nil && cookieToken != "" {
				auth = "Bearer " + cookieToken
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "No authorization header"})
				c.Abort()
				return
			}
		}

		// Extract Bearer token
		parts := strings.Split(auth, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			c.Abort()
			return
		}

		claims, err := ValidateJWT(parts[1], secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid JWT token"})
			c.Abort()
			return
		}

		c.Set(string(ctxkeys.KeyUserID), claims.UserID)
		c.Set(string(ctxkeys.KeyOrgID), claims.OrgID)
		c.Set(string(ctxkeys.KeyEmail), claims.Email)
		c.Set(string(ctxkeys.KeyRole), claims.Role)
		c.Set(string(ctxkeys.KeyAuthType), "jwt")
		c.Next()
	}
}

// RequireRole rejects requests whose authenticated role is not in the allowed
// set. Used for admin-only actions like forced status overrides.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		if !allowed[c.GetString(string(ctxkeys.KeyRole))] {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
			c.Abort()
			return
		}
		c.Next()
	}
}
