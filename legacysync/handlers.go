package legacysync

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/custodia-platform/absences_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// statusForError maps a domain error kind to an HTTP status. Unknown errors
// are internal.
func statusForError(err error) int {
	switch utils.KindOf(err) {
	case utils.ErrKindNotFound:
		return http.StatusNotFound
	case utils.ErrKindCategorisationNotFound:
		return http.StatusUnprocessableEntity
	case utils.ErrKindInvalidStateTransition:
		return http.StatusConflict
	case utils.ErrKindIdentityMismatch:
		return http.StatusConflict
	case utils.ErrKindValidationFailure:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	status := statusForError(err)
	payload := gin.H{"error": err.Error()}
	if kind := utils.KindOf(err); kind != "" {
		payload["kind"] = string(kind)
	}
	c.JSON(status, payload)
}

// MigrateHandler runs a full-replace reconciliation with pre-published
// events (historical backfill).
func MigrateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		result, err := Migrate(c.Request.Context(), req.SubjectId, req.Snapshot)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// ResyncHandler runs a merge reconciliation.
func ResyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		result, err := Resync(c.Request.Context(), req.SubjectId, req.Snapshot)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// SyncSingleHandler creates or updates one record outside a full snapshot.
func SyncSingleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SingleSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		result, err := SyncSingle(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// MoveHandler reassigns sub-trees between two subjects.
func MoveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MoveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		result, err := MoveSubject(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HierarchyHandler returns the persisted hierarchy for one subject.
func HierarchyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectId := c.Param("subjectId")
		db := config.GetDB()

		auths, unscheduled, err := models.GetSubjectHierarchy(c.Request.Context(), db, subjectId, false)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"subjectId":            subjectId,
			"authorisations":       auths,
			"unscheduledMovements": unscheduled,
		})
	}
}

// AuthorisationActionHandler applies one explicit lifecycle action.
func AuthorisationActionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid authorisation id"})
			return
		}
		action := workflow.AuthorisationAction(c.Param("action"))

		auth, err := workflow.ApplyAuthorisationAction(c.Request.Context(), id, action)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, auth)
	}
}

// SyncRunsHandler lists recent reconciliation runs for one subject.
func SyncRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectId := c.Param("subjectId")
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		runs, err := models.GetSyncRuns(c.Request.Context(), subjectId, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": runs})
	}
}

// SyncRunDetailHandler returns one run with its error rows.
func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runId, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		db := config.GetDB()

		var run models.SyncRun
		if err := db.WithContext(c.Request.Context()).First(&run, uint(runId)).Error; err != nil {
			respondError(c, utils.ErrNotFound("sync run %d not found", runId))
			return
		}
		runErrors, err := models.GetSyncRunErrors(c.Request.Context(), run.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "errors": runErrors})
	}
}

// HistoryHandler lists audit facts for a subject, optionally filtered to
// one entity.
func HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectId := c.Param("subjectId")

		var referenceId *int
		if raw := c.Query("referenceId"); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referenceId"})
				return
			}
			referenceId = &id
		}
		var referenceType *string
		if raw := c.Query("referenceType"); raw != "" {
			referenceType = &raw
		}

		histories, err := models.GetHistories(c.Request.Context(), subjectId, referenceId, referenceType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": histories})
	}
}
