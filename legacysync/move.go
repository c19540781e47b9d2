package legacysync

import (
	"context"
	"fmt"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/custodia-platform/absences_backend/workflow"
	"gorm.io/gorm"
)

// MoveSubject reassigns selected authorisation sub-trees and unscheduled
// movements from one subject to another, typically after a registry merge
// of duplicate records. Every referenced id must belong to the from
// subject; any stranger id fails the whole operation with IdentityMismatch.
func MoveSubject(ctx context.Context, req MoveRequest) (*SyncResult, error) {
	ctx = utils.SetSourceInContext(ctx, models.SourceLegacySync)
	ctx = utils.SetSkipPrisonScopeInContext(ctx, true)
	logger := config.GetLogger()

	if req.FromSubjectId == req.ToSubjectId {
		return nil, utils.ErrValidationFailure("from and to subject are the same")
	}
	if len(req.AuthorisationIds) == 0 && len(req.UnscheduledMovementIds) == 0 {
		return nil, utils.ErrValidationFailure("nothing to move")
	}

	// Both ends must exist before anything mutates.
	if _, err := identityClient().GetSubjectIdentity(ctx, req.FromSubjectId); err != nil {
		config.LogError(logger, "move.go", "MoveSubject", "GetSubjectIdentity from", req.FromSubjectId, err)
		return nil, err
	}
	if _, err := identityClient().GetSubjectIdentity(ctx, req.ToSubjectId); err != nil {
		config.LogError(logger, "move.go", "MoveSubject", "GetSubjectIdentity to", req.ToSubjectId, err)
		return nil, err
	}

	reqJSON, err := utils.MarshalToJSON(req)
	if err != nil {
		return nil, err
	}
	run, err := models.StartSyncRun(ctx, req.FromSubjectId, models.SyncTriggeredMove, models.SyncModeMerge, []byte(reqJSON))
	if err != nil {
		return nil, err
	}

	result := &SyncResult{SubjectId: req.FromSubjectId, RunId: run.ID}
	db := config.GetDB()

	txErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock both subjects in a fixed order to avoid deadlock between two
		// concurrent opposite moves.
		first, second := req.FromSubjectId, req.ToSubjectId
		if second < first {
			first, second = second, first
		}
		if err := workflow.AcquireSubjectLock(tx, first); err != nil {
			return err
		}
		defer workflow.ReleaseSubjectLock(tx, first)
		if err := workflow.AcquireSubjectLock(tx, second); err != nil {
			return err
		}
		defer workflow.ReleaseSubjectLock(tx, second)

		for _, id := range utils.UniqueSlice(req.AuthorisationIds) {
			if err := moveAuthorisation(ctx, tx, req.FromSubjectId, req.ToSubjectId, id, result); err != nil {
				return err
			}
		}
		for _, id := range utils.UniqueSlice(req.UnscheduledMovementIds) {
			if err := moveUnscheduledMovement(ctx, tx, req.FromSubjectId, req.ToSubjectId, id, result); err != nil {
				return err
			}
		}

		_, err := models.AppendDomainEvent(ctx, tx, req.FromSubjectId, models.EventSubjectMerged, 0, "", map[string]interface{}{
			"fromSubjectId":          req.FromSubjectId,
			"toSubjectId":            req.ToSubjectId,
			"authorisationIds":       req.AuthorisationIds,
			"unscheduledMovementIds": req.UnscheduledMovementIds,
		}, false)
		return err
	})

	status := models.SyncRunStatusSuccess
	if txErr != nil {
		status = models.SyncRunStatusFailed
	}
	statsJSON, _ := utils.MarshalToJSON(result)
	if err := models.FinishSyncRun(ctx, run, status, result.RecordsTouched(), false, []byte(statsJSON), txErr); err != nil {
		config.LogError(logger, "move.go", "MoveSubject", "FinishSyncRun", run.ID, err)
	}
	if txErr != nil {
		return nil, txErr
	}
	return result, nil
}

func moveAuthorisation(ctx context.Context, tx *gorm.DB, fromSubjectId, toSubjectId string, id int, result *SyncResult) error {
	auth, err := reloadAuthorisation(ctx, tx, id)
	if err != nil {
		return utils.WrapDomainError(utils.ErrKindNotFound, err, "authorisation %d not found", id)
	}
	if auth.SubjectId != fromSubjectId {
		return utils.ErrIdentityMismatch("authorisation %d does not belong to subject %s", id, fromSubjectId)
	}

	before := *auth
	auth.SubjectId = toSubjectId
	if err := tx.WithContext(ctx).Model(&models.Authorisation{}).
		Where("id = ?", id).
		Update("subject_id", toSubjectId).Error; err != nil {
		return err
	}
	// Movements carry subject_id directly; keep them consistent with the
	// new owner.
	for _, occ := range auth.Occurrences {
		if err := tx.WithContext(ctx).Model(&models.Movement{}).
			Where("occurrence_id = ?", occ.ID).
			Update("subject_id", toSubjectId).Error; err != nil {
			return err
		}
	}

	description := fmt.Sprintf("Authorisation moved from subject %s to %s", fromSubjectId, toSubjectId)
	if err := models.SaveHistoryUpdate(tx, toSubjectId, auth.ID, models.ReferenceTypeAuthorisation, before, auth, description); err != nil {
		return err
	}
	result.AuthorisationsUpdated++
	return nil
}

func moveUnscheduledMovement(ctx context.Context, tx *gorm.DB, fromSubjectId, toSubjectId string, id int, result *SyncResult) error {
	var m models.Movement
	if err := tx.WithContext(ctx).First(&m, id).Error; err != nil {
		return utils.WrapDomainError(utils.ErrKindNotFound, err, "movement %d not found", id)
	}
	if m.SubjectId != fromSubjectId {
		return utils.ErrIdentityMismatch("movement %d does not belong to subject %s", id, fromSubjectId)
	}
	if m.OccurrenceId != nil {
		return utils.ErrValidationFailure("movement %d is scheduled; move its authorisation instead", id)
	}

	before := m
	m.SubjectId = toSubjectId
	if err := tx.WithContext(ctx).Model(&models.Movement{}).
		Where("id = ?", id).
		Update("subject_id", toSubjectId).Error; err != nil {
		return err
	}

	description := fmt.Sprintf("Movement moved from subject %s to %s", fromSubjectId, toSubjectId)
	if err := models.SaveHistoryUpdate(tx, toSubjectId, m.ID, models.ReferenceTypeMovement, before, m, description); err != nil {
		return err
	}
	result.MovementsUpdated++
	return nil
}
