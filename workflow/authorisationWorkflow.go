package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
	"gorm.io/gorm"
)

// AuthorisationAction is an explicit lifecycle action. Status never changes
// any other way.
type AuthorisationAction string

const (
	ActionApprove AuthorisationAction = "approve"
	ActionDeny    AuthorisationAction = "deny"
	ActionCancel  AuthorisationAction = "cancel"
	ActionExpire  AuthorisationAction = "expire"
	ActionDefer   AuthorisationAction = "defer"
)

var authorisationTransitions = map[AuthorisationAction]map[models.AuthorisationStatus]models.AuthorisationStatus{
	ActionApprove: {
		models.AuthorisationStatusPending: models.AuthorisationStatusApproved,
	},
	ActionDeny: {
		models.AuthorisationStatusPending: models.AuthorisationStatusDenied,
	},
	ActionCancel: {
		models.AuthorisationStatusApproved: models.AuthorisationStatusCancelled,
	},
	ActionExpire: {
		models.AuthorisationStatusPending: models.AuthorisationStatusExpired,
	},
	ActionDefer: {
		models.AuthorisationStatusDenied:    models.AuthorisationStatusPending,
		models.AuthorisationStatusCancelled: models.AuthorisationStatusPending,
		models.AuthorisationStatusExpired:   models.AuthorisationStatusPending,
	},
}

// NextAuthorisationStatus resolves an action against the current status,
// failing with an InvalidStateTransition kind when the action is not
// permitted from that status.
func NextAuthorisationStatus(current models.AuthorisationStatus, action AuthorisationAction) (models.AuthorisationStatus, error) {
	table, ok := authorisationTransitions[action]
	if !ok {
		return "", utils.ErrValidationFailure("unknown authorisation action %q", action)
	}
	next, ok := table[current]
	if !ok {
		return "", utils.ErrInvalidStateTransition("cannot %s authorisation in status %s", action, current)
	}
	return next, nil
}

// ApplyAuthorisationAction runs one lifecycle action in its own transaction
// under the subject lock: transition guard, occurrence status cascade,
// audit fact and domain event.
func ApplyAuthorisationAction(ctx context.Context, authorisationId int, action AuthorisationAction) (*models.Authorisation, error) {
	logger := config.GetLogger()
	db := config.GetDB()
	now := time.Now().UTC()

	var result *models.Authorisation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The owning subject is not known until the row is read; resolve it
		// first, then re-read the authoritative row under the subject lock so
		// the status the guard sees is the status the write replaces.
		var owner models.Authorisation
		if err := tx.WithContext(ctx).Select("id", "subject_id").First(&owner, authorisationId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrNotFound("authorisation %d not found", authorisationId)
			}
			return err
		}

		if err := AcquireSubjectLock(tx, owner.SubjectId); err != nil {
			config.LogError(logger, "authorisationWorkflow.go", "ApplyAuthorisationAction", "AcquireSubjectLock", owner.SubjectId, err)
			return err
		}
		defer ReleaseSubjectLock(tx, owner.SubjectId)

		auth, err := models.GetAuthorisationForUpdate(ctx, tx, authorisationId)
		if err != nil {
			return err
		}

		updated, err := applyAuthorisationActionTx(ctx, tx, auth, action, now)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// guardActionWindow applies the date rules that sit alongside the
// transition table: approve and defer need the authorisation window still
// open, expire needs it already closed.
func guardActionWindow(auth *models.Authorisation, action AuthorisationAction, today time.Time) error {
	switch action {
	case ActionApprove:
		if auth.ToDate.Before(today) {
			return utils.ErrInvalidStateTransition("cannot approve authorisation %d: end date %s has passed", auth.ID, auth.ToDate.Format("2006-01-02"))
		}
	case ActionDefer:
		// Defer resets a terminal authorisation back to PENDING when the
		// legacy system resyncs it; past authorisations stay terminal.
		if auth.ToDate.Before(today) {
			return utils.ErrInvalidStateTransition("cannot defer authorisation %d: end date %s has passed", auth.ID, auth.ToDate.Format("2006-01-02"))
		}
	case ActionExpire:
		if !auth.ToDate.Before(today) {
			return utils.ErrInvalidStateTransition("cannot expire authorisation %d: end date %s has not passed", auth.ID, auth.ToDate.Format("2006-01-02"))
		}
	}
	return nil
}

// applyAuthorisationActionTx performs the action inside the caller's
// transaction. Reconciliation calls this directly so the cascade shares its
// unit of work.
func applyAuthorisationActionTx(ctx context.Context, tx *gorm.DB, auth *models.Authorisation, action AuthorisationAction, now time.Time) (*models.Authorisation, error) {
	next, err := NextAuthorisationStatus(auth.Status, action)
	if err != nil {
		return nil, err
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := guardActionWindow(auth, action, today); err != nil {
		return nil, err
	}

	before := *auth
	auth.Status = next
	if action == ActionApprove {
		auth.ApprovedAt = &now
	}

	updates := map[string]interface{}{"status": next}
	if action == ActionApprove {
		updates["approved_at"] = &now
	}
	if err := tx.WithContext(ctx).Model(&models.Authorisation{}).
		Where("id = ?", auth.ID).
		Updates(updates).Error; err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Authorisation %s: %s -> %s", action, before.Status, next)
	if err := models.SaveHistoryUpdate(tx, auth.SubjectId, auth.ID, models.ReferenceTypeAuthorisation, before, auth, description); err != nil {
		return nil, err
	}
	_, err = models.AppendDomainEvent(ctx, tx, auth.SubjectId, models.EventAuthorisationStatusChanged, auth.ID, models.ReferenceTypeAuthorisation, map[string]interface{}{
		"action": string(action),
		"from":   before.Status,
		"to":     next,
	}, false)
	if err != nil {
		return nil, err
	}

	if err := RecomputeOccurrenceStatuses(ctx, tx, auth, now); err != nil {
		return nil, err
	}
	return auth, nil
}

// RecomputeOccurrenceStatuses re-derives every occurrence status under one
// authorisation and persists only the ones that changed, each with an audit
// fact and a status-changed event.
func RecomputeOccurrenceStatuses(ctx context.Context, tx *gorm.DB, auth *models.Authorisation, now time.Time) error {
	var occurrences []models.Occurrence
	if err := tx.WithContext(ctx).
		Preload("Movements").
		Where("authorisation_id = ?", auth.ID).
		Find(&occurrences).Error; err != nil {
		return err
	}

	for i := range occurrences {
		occ := &occurrences[i]
		derived := DeriveOccurrenceStatus(auth.Status, occ.ReleaseAt, occ.ReturnBy, occ.Movements, now)
		if derived == occ.Status {
			continue
		}
		if err := UpdateOccurrenceStatus(ctx, tx, auth.SubjectId, occ, derived); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOccurrenceStatus persists a derived status change with its audit
// fact and event. Callers must have derived the status already.
func UpdateOccurrenceStatus(ctx context.Context, tx *gorm.DB, subjectId string, occ *models.Occurrence, derived models.OccurrenceStatus) error {
	before := *occ
	occ.Status = derived

	if err := tx.WithContext(ctx).Model(&models.Occurrence{}).
		Where("id = ?", occ.ID).
		Update("status", derived).Error; err != nil {
		return err
	}

	description := fmt.Sprintf("Occurrence status: %s -> %s", before.Status, derived)
	if err := models.SaveHistoryUpdate(tx, subjectId, occ.ID, models.ReferenceTypeOccurrence, before, occ, description); err != nil {
		return err
	}
	_, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventOccurrenceStatusChanged, occ.ID, models.ReferenceTypeOccurrence, map[string]interface{}{
		"from": before.Status,
		"to":   derived,
	}, false)
	return err
}
