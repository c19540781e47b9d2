package legacysync

import (
	"context"
	"errors"
	"time"

	"github.com/custodia-platform/absences_backend/categorisation"
	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/custodia-platform/absences_backend/workflow"
	"gorm.io/gorm"
)

// Entity kinds accepted by SyncSingle.
const (
	EntityKindAuthorisation = "AUTHORISATION"
	EntityKindOccurrence    = "OCCURRENCE"
	EntityKindMovement      = "MOVEMENT"
)

// SyncSingle creates or updates one record by id-or-legacy-id match,
// outside of a full snapshot. Used for incremental legacy updates. Unlike
// merge it never deletes siblings; only the named record is touched (plus
// the status recompute it triggers).
func SyncSingle(ctx context.Context, req SingleSyncRequest) (*SyncResult, error) {
	ctx = utils.SetSourceInContext(ctx, models.SourceLegacySync)
	ctx = utils.SetSkipPrisonScopeInContext(ctx, true)
	logger := config.GetLogger()

	if _, err := identityClient().GetSubjectIdentity(ctx, req.SubjectId); err != nil {
		config.LogError(logger, "single.go", "SyncSingle", "GetSubjectIdentity", req.SubjectId, err)
		return nil, err
	}

	reqJSON, err := utils.MarshalToJSON(req)
	if err != nil {
		return nil, err
	}
	run, err := models.StartSyncRun(ctx, req.SubjectId, models.SyncTriggeredSingle, models.SyncModeMerge, []byte(reqJSON))
	if err != nil {
		return nil, err
	}

	result := &SyncResult{SubjectId: req.SubjectId, RunId: run.ID}
	db := config.GetDB()
	now := time.Now().UTC()

	txErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := workflow.AcquireSubjectLock(tx, req.SubjectId); err != nil {
			return err
		}
		defer workflow.ReleaseSubjectLock(tx, req.SubjectId)

		catalog, err := models.LoadCatalog(ctx)
		if err != nil {
			return err
		}

		switch req.EntityKind {
		case EntityKindAuthorisation:
			if req.Authorisation == nil {
				return utils.ErrValidationFailure("authorisation payload is required")
			}
			return syncSingleAuthorisation(ctx, tx, catalog, req.SubjectId, *req.Authorisation, result, now)
		case EntityKindOccurrence:
			if req.Occurrence == nil {
				return utils.ErrValidationFailure("occurrence payload is required")
			}
			return syncSingleOccurrence(ctx, tx, catalog, req.SubjectId, req.ParentId, *req.Occurrence, result, now)
		case EntityKindMovement:
			if req.Movement == nil {
				return utils.ErrValidationFailure("movement payload is required")
			}
			return syncSingleMovement(ctx, tx, req.SubjectId, req.ParentId, *req.Movement, result, now)
		default:
			return utils.ErrValidationFailure("unknown entity kind %q", req.EntityKind)
		}
	})

	status := models.SyncRunStatusSuccess
	noOp := txErr == nil && result.RecordsTouched() == 0
	if txErr != nil {
		status = models.SyncRunStatusFailed
	}
	statsJSON, _ := utils.MarshalToJSON(result)
	if err := models.FinishSyncRun(ctx, run, status, result.RecordsTouched(), noOp, []byte(statsJSON), txErr); err != nil {
		config.LogError(logger, "single.go", "SyncSingle", "FinishSyncRun", run.ID, err)
	}
	if txErr != nil {
		return nil, txErr
	}
	result.NoOp = noOp
	return result, nil
}

func syncSingleAuthorisation(ctx context.Context, tx *gorm.DB, catalog *categorisation.Catalog, subjectId string, in AuthorisationIn, result *SyncResult, now time.Time) error {
	if in.ToDate.Before(in.FromDate) {
		return utils.ErrValidationFailure("authorisation date range is inverted")
	}

	existing, err := findAuthorisation(ctx, tx, subjectId, in.Id, in.LegacyId)
	if err != nil {
		return err
	}

	var auth *models.Authorisation
	if existing == nil {
		auth, err = createAuthorisation(ctx, tx, catalog, subjectId, in, result, false)
	} else {
		auth, err = applyAuthorisation(ctx, tx, catalog, subjectId, existing, in, result, false)
	}
	if err != nil {
		return err
	}
	return workflow.RecomputeOccurrenceStatuses(ctx, tx, auth, now)
}

func syncSingleOccurrence(ctx context.Context, tx *gorm.DB, catalog *categorisation.Catalog, subjectId string, parentId int, in OccurrenceIn, result *SyncResult, now time.Time) error {
	if in.ReturnBy.Before(in.ReleaseAt) {
		return utils.ErrValidationFailure("occurrence window is inverted")
	}

	var auth models.Authorisation
	if err := tx.WithContext(ctx).
		Preload("Occurrences").
		First(&auth, parentId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrNotFound("authorisation %d not found", parentId)
		}
		return err
	}
	if auth.SubjectId != subjectId {
		return utils.ErrIdentityMismatch("authorisation %d does not belong to subject %s", parentId, subjectId)
	}
	if !occurrenceWindowWithinRange(in.ReleaseAt, in.ReturnBy, auth.FromDate, auth.ToDate) {
		return utils.ErrValidationFailure("occurrence window falls outside the authorisation date range")
	}

	existing, err := findOccurrence(ctx, tx, subjectId, in.Id, in.LegacyId)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err = createOccurrence(ctx, tx, catalog, subjectId, &auth, in, result, false)
	} else {
		_, err = applyOccurrence(ctx, tx, catalog, subjectId, &auth, existing, in, result, false)
	}
	if err != nil {
		return err
	}
	return workflow.RecomputeOccurrenceStatuses(ctx, tx, &auth, now)
}

func syncSingleMovement(ctx context.Context, tx *gorm.DB, subjectId string, parentId int, in MovementIn, result *SyncResult, now time.Time) error {
	if _, err := models.ParseMovementDirection(in.Direction); err != nil {
		return utils.ErrValidationFailure("unknown movement direction %q", in.Direction)
	}

	// A zero parent means unscheduled.
	var occurrenceId *int
	var parentAuth *models.Authorisation
	if parentId != 0 {
		var occ models.Occurrence
		if err := tx.WithContext(ctx).First(&occ, parentId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrNotFound("occurrence %d not found", parentId)
			}
			return err
		}
		var auth models.Authorisation
		if err := tx.WithContext(ctx).First(&auth, occ.AuthorisationId).Error; err != nil {
			return err
		}
		if auth.SubjectId != subjectId {
			return utils.ErrIdentityMismatch("occurrence %d does not belong to subject %s", parentId, subjectId)
		}
		occurrenceId = &occ.ID
		parentAuth = &auth
	}

	existing, err := findMovement(ctx, tx, subjectId, in.Id, in.LegacyId)
	if err != nil {
		return err
	}

	occIdByKey := map[occurrenceKey]int{}
	var key *occurrenceKey
	if occurrenceId != nil {
		key = &occurrenceKey{Id: *occurrenceId}
		occIdByKey[*key] = *occurrenceId
	}
	target := movementTarget{Incoming: in, OccurrenceKey: key}

	if existing == nil {
		err = createMovement(ctx, tx, subjectId, target, occIdByKey, result, false)
	} else {
		err = applyMovement(ctx, tx, subjectId, existing, target, occIdByKey, result, false)
	}
	if err != nil {
		return err
	}

	if parentAuth != nil {
		return workflow.RecomputeOccurrenceStatuses(ctx, tx, parentAuth, now)
	}
	return nil
}

func findAuthorisation(ctx context.Context, tx *gorm.DB, subjectId string, id int, legacyId *int64) (*models.Authorisation, error) {
	q := tx.WithContext(ctx).Preload("Occurrences").Where("subject_id = ?", subjectId)
	var row models.Authorisation
	if id != 0 {
		if err := q.First(&row, "id = ?", id).Error; err == nil {
			return &row, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if legacyId != nil {
		q = tx.WithContext(ctx).Preload("Occurrences").Where("subject_id = ?", subjectId)
		if err := q.First(&row, "legacy_id = ?", *legacyId).Error; err == nil {
			return &row, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func findOccurrence(ctx context.Context, tx *gorm.DB, subjectId string, id int, legacyId *int64) (*models.Occurrence, error) {
	authScope := tx.WithContext(ctx).Model(&models.Authorisation{}).Select("id").Where("subject_id = ?", subjectId)
	var row models.Occurrence
	if id != 0 {
		err := tx.WithContext(ctx).Where("authorisation_id IN (?)", authScope).First(&row, "id = ?", id).Error
		if err == nil {
			return &row, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if legacyId != nil {
		err := tx.WithContext(ctx).Where("authorisation_id IN (?)", authScope).First(&row, "legacy_id = ?", *legacyId).Error
		if err == nil {
			return &row, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func findMovement(ctx context.Context, tx *gorm.DB, subjectId string, id int, legacyId *int64) (*models.Movement, error) {
	var row models.Movement
	if id != 0 {
		err := tx.WithContext(ctx).Where("subject_id = ?", subjectId).First(&row, "id = ?", id).Error
		if err == nil {
			return &row, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if legacyId != nil {
		err := tx.WithContext(ctx).Where("subject_id = ?", subjectId).First(&row, "legacy_id = ?", *legacyId).Error
		if err == nil {
			return &row, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}
