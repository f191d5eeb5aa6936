// README: Bearer-token auth middleware; populates caller uid and role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"relay/internal/infra"
	"relay/internal/response"
)

const (
	ctxKeyUID  = "auth_uid"
	ctxKeyRole = "auth_role"
)

// Auth verifies the Authorization bearer token and stores the caller's
// uid and role on the request context.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.AbortWithError(c, http.StatusUnauthorized, "missing authorization header")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			response.AbortWithError(c, http.StatusUnauthorized, "invalid authorization header")
			return
		}
		token, err := verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			response.AbortWithError(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Set(ctxKeyUID, token.UID)
		c.Set(ctxKeyRole, token.Role)
		c.Next()
	}
}

// CallerUID returns the authenticated caller's uid, or "" when unauthenticated.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

// CallerRole returns the caller's role claim, or "" when absent.
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// RequireRole gates a route group on a role claim.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) != role {
			response.AbortWithError(c, http.StatusForbidden, "insufficient role")
			return
		}
		c.Next()
	}
}
