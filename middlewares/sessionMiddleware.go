package middlewares

import (
	"net/http"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware validates the caller's session token against redis and
// stamps the username into the request context. Requests without a token
// pass through; protected routes reject them downstream.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
