package middlewares

import (
	"strconv"

	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestContextMiddleware copies the caller-supplied headers into typed
// context values so models and workflows can stamp audit facts without
// touching gin. A missing correlation id gets a fresh one so every audit
// fact and event in the request shares a key.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		correlationId := c.Request.Header.Get("x-correlation-id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)

		if raw := c.Request.Header.Get("x-user-id"); raw != "" {
			if userId, err := strconv.Atoi(raw); err == nil {
				ctx = utils.SetUserIdInContext(ctx, userId)
			}
		}
		if userName := c.Request.Header.Get("x-user-name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		if prisonId := c.Request.Header.Get("x-prison-id"); prisonId != "" {
			ctx = utils.SetPrisonIdInContext(ctx, prisonId)
		}

		source := c.Request.Header.Get("x-source")
		if source == "" {
			source = models.SourceLocal
		}
		ctx = utils.SetSourceInContext(ctx, source)

		c.Request = c.Request.WithContext(ctx)
		c.Header("x-correlation-id", correlationId)
		c.Next()
	}
}
