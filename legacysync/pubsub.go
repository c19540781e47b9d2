package legacysync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const pushHandlerName = "legacy-push"

// PubSubPushHandler receives legacy change notifications over a push
// subscription. Each message names a subject; the handler fetches that
// subject's current snapshot from the legacy feed and runs a merge.
// At-least-once delivery is made safe by the durable idempotency key.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_LEGACY_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var payload LegacyPushPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if payload.SubjectId == "" || envelope.Message.MessageId == "" {
			c.Status(http.StatusNoContent)
			return
		}

		if err := processPushMessage(c.Request.Context(), payload.SubjectId, envelope.Message.MessageId); err != nil {
			// Non-2xx makes the subscription redeliver; the idempotency row
			// is FAILED and will be reclaimed.
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func processPushMessage(ctx context.Context, subjectId string, messageId string) error {
	logger := config.GetLogger()
	db := config.GetDB()

	ctx = utils.SetUserNameInContext(ctx, "Legacy Push")
	ctx = utils.SetSourceInContext(ctx, models.SourceLegacySync)

	claimed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := models.ClaimIdempotencyKey(ctx, tx, subjectId, pushHandlerName, messageId)
		if err != nil {
			return err
		}
		claimed = ok
		return nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		// Already processed or mid-flight elsewhere.
		return nil
	}

	_, err = ResyncFromRegistry(ctx, subjectId)
	if err != nil {
		config.LogError(logger, "pubsub.go", "processPushMessage", "ResyncFromRegistry", subjectId, err)
	}

	finErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return models.FinishIdempotencyKey(ctx, tx, subjectId, pushHandlerName, messageId, err)
	})
	if finErr != nil {
		config.LogError(logger, "pubsub.go", "processPushMessage", "FinishIdempotencyKey", subjectId, finErr)
	}
	return err
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
