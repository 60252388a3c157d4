package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nightfall-hq/gatehouse/internal/graph"
)

// SessionToken extracts the bearer session token, when present, and makes it
// available to resolvers through the request context. Authentication itself
// is enforced per-operation, so requests without a token pass through.
func SessionToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
			token := strings.TrimSpace(authz[7:])
			if token != "" {
				ctx := graph.WithSessionToken(c.Request.Context(), token)
				c.Request = c.Request.WithContext(ctx)
			}
		}
		c.Next()
	}
}
