package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mailpilot-io/mailpilot-ce/internal/auth"
)

const tenantKey = "tenant_id"

// TenantAuth validates the bearer token and stores the caller's tenant id on
// the request context. Tenant identity only ever comes from the token.
func TenantAuth(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := jwtManager.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(tenantKey, claims.TenantID)
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}
