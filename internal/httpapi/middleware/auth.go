// README: Firebase bearer-token auth and role gates for the API edge.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"haulmatch/internal/infra"
)

const (
	ctxKeyUID  = "auth.uid"
	ctxKeyRole = "auth.role"
)

// Auth verifies the Authorization bearer token and stores the caller's uid
// and role on the request context. The core below the edge only ever sees
// resolved ids and roles, never tokens.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			abortUnauthorized(c, "authorization header must be a bearer token")
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}
		c.Set(ctxKeyUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxKeyRole, role)
		}
		c.Next()
	}
}

// TokenFromQuery lifts a token query parameter into the Authorization
// header. WebSocket clients in browsers cannot set headers on the upgrade
// request, so /ws accepts ?token= and the usual Auth runs after this.
func TokenFromQuery() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			if tok := c.Query("token"); tok != "" {
				c.Request.Header.Set("Authorization", "Bearer "+tok)
			}
		}
		c.Next()
	}
}

// RequireRole rejects callers whose role claim does not match. Runs after
// Auth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, want := range roles {
			if role == want {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "insufficient role",
			"code":  "FORBIDDEN",
		})
	}
}

// CallerUID returns the authenticated user id, empty when unauthenticated.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

// CallerRole returns the caller's role claim, empty when absent.
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": msg,
		"code":  "UNAUTHENTICATED",
	})
}
