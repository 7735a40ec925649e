package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// Permissions checked by the API.
const (
	PermEventsWrite   = "events:write"
	PermPipelineRead  = "pipeline:read"
	PermPipelineAdmin = "pipeline:admin"
)

// RequirePermission aborts with 403 unless the caller holds permission.
// pipeline:admin implies every other permission.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get(string(ctxKeyPermissions))
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "no permissions in context",
			})
			return
		}
		permList, ok := perms.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "invalid permissions type",
			})
			return
		}

		if slices.Contains(permList, PermPipelineAdmin) || slices.Contains(permList, permission) {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code": "FORBIDDEN", "message": "insufficient permissions",
		})
	}
}
