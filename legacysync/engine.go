package legacysync

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-platform/absences_backend/categorisation"
	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/custodia-platform/absences_backend/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("absences-backend")

// Migrate performs a full-replace reconciliation for historical backfill:
// everything the store holds for the subject is rebuilt from the snapshot,
// and the produced events are marked already-published so the backfill
// never floods the bus.
func Migrate(ctx context.Context, subjectId string, snapshot AbsenceSnapshot) (*SyncResult, error) {
	ctx = utils.SetSourceInContext(ctx, models.SourceMigration)
	return reconcile(ctx, subjectId, snapshot, models.SyncModeFullReplace, models.SyncTriggeredMigration, true)
}

// Resync performs a merge reconciliation: match by id then legacy id,
// update in place, create the missing, delete the vanished. Events queue
// for normal publication.
func Resync(ctx context.Context, subjectId string, snapshot AbsenceSnapshot) (*SyncResult, error) {
	ctx = utils.SetSourceInContext(ctx, models.SourceLegacySync)
	return reconcile(ctx, subjectId, snapshot, models.SyncModeMerge, models.SyncTriggeredResync, false)
}

// ResyncFromRegistry pulls the subject's current snapshot from the system
// of record and reconciles against it.
func ResyncFromRegistry(ctx context.Context, subjectId string) (*SyncResult, error) {
	snapshot, err := snapshotClient().GetAbsenceSnapshot(ctx, subjectId)
	if err != nil {
		return nil, err
	}
	return Resync(ctx, subjectId, *snapshot)
}

func reconcile(ctx context.Context, subjectId string, snapshot AbsenceSnapshot, mode string, triggeredBy string, prePublished bool) (*SyncResult, error) {
	logger := config.GetLogger()

	// Reconciliation works on the subject's whole record, whichever prison
	// the caller belongs to.
	ctx = utils.SetSkipPrisonScopeInContext(ctx, true)

	ctx, span := tracer.Start(ctx, "legacysync.reconcile")
	span.SetAttributes(
		attribute.String("subject_id", subjectId),
		attribute.String("mode", mode),
		attribute.String("triggered_by", triggeredBy),
	)
	defer span.End()

	if err := validateSnapshot(subjectId, snapshot); err != nil {
		return nil, err
	}

	// The one external call per operation, made before mutation begins.
	if _, err := identityClient().GetSubjectIdentity(ctx, subjectId); err != nil {
		config.LogError(logger, "engine.go", "reconcile", "GetSubjectIdentity", subjectId, err)
		return nil, err
	}

	snapshotJSON, err := utils.MarshalToJSON(snapshot)
	if err != nil {
		return nil, err
	}
	run, err := models.StartSyncRun(ctx, subjectId, triggeredBy, mode, []byte(snapshotJSON))
	if err != nil {
		return nil, err
	}

	result := &SyncResult{SubjectId: subjectId, RunId: run.ID}
	db := config.GetDB()
	now := time.Now().UTC()

	txErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := workflow.AcquireSubjectLock(tx, subjectId); err != nil {
			return err
		}
		defer workflow.ReleaseSubjectLock(tx, subjectId)

		catalog, err := models.LoadCatalog(ctx)
		if err != nil {
			return err
		}

		auths, unscheduled, err := models.GetSubjectHierarchy(ctx, tx, subjectId, true)
		if err != nil {
			return err
		}

		if mode == models.SyncModeFullReplace {
			if err := deleteHierarchy(ctx, tx, subjectId, auths, unscheduled, result, prePublished); err != nil {
				return err
			}
			auths, unscheduled = nil, nil
		}

		return applySnapshot(ctx, tx, catalog, subjectId, snapshot, auths, unscheduled, result, prePublished, now)
	})

	status := models.SyncRunStatusSuccess
	noOp := txErr == nil && result.RecordsTouched() == 0
	if txErr != nil {
		status = models.SyncRunStatusFailed
	}
	statsJSON, _ := utils.MarshalToJSON(result)
	if err := models.FinishSyncRun(ctx, run, status, result.RecordsTouched(), noOp, []byte(statsJSON), txErr); err != nil {
		config.LogError(logger, "engine.go", "reconcile", "FinishSyncRun", run.ID, err)
	}
	if txErr != nil {
		return nil, txErr
	}
	result.NoOp = noOp
	return result, nil
}

// deleteHierarchy removes every authorisation, occurrence and movement for
// the subject, appending the audit facts and delete events.
func deleteHierarchy(ctx context.Context, tx *gorm.DB, subjectId string, auths []models.Authorisation, unscheduled []models.Movement, result *SyncResult, prePublished bool) error {
	for i := range auths {
		if err := deleteAuthorisationCascade(ctx, tx, subjectId, &auths[i], result, prePublished); err != nil {
			return err
		}
	}
	for i := range unscheduled {
		if err := deleteMovement(ctx, tx, subjectId, &unscheduled[i], result, prePublished); err != nil {
			return err
		}
	}
	return nil
}

func deleteAuthorisationCascade(ctx context.Context, tx *gorm.DB, subjectId string, auth *models.Authorisation, result *SyncResult, prePublished bool) error {
	for i := range auth.Occurrences {
		if err := deleteOccurrenceCascade(ctx, tx, subjectId, &auth.Occurrences[i], result, prePublished); err != nil {
			return err
		}
	}
	if err := tx.Delete(&models.Authorisation{}, auth.ID).Error; err != nil {
		return err
	}
	if err := models.SaveHistoryDelete(tx, subjectId, auth.ID, models.ReferenceTypeAuthorisation, auth, "Authorisation removed by reconciliation"); err != nil {
		return err
	}
	if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventAuthorisationDeleted, auth.ID, models.ReferenceTypeAuthorisation, auth, prePublished); err != nil {
		return err
	}
	result.AuthorisationsDeleted++
	return nil
}

func deleteOccurrenceCascade(ctx context.Context, tx *gorm.DB, subjectId string, occ *models.Occurrence, result *SyncResult, prePublished bool) error {
	for i := range occ.Movements {
		if err := deleteMovement(ctx, tx, subjectId, &occ.Movements[i], result, prePublished); err != nil {
			return err
		}
	}
	if err := tx.Delete(&models.Occurrence{}, occ.ID).Error; err != nil {
		return err
	}
	if err := models.SaveHistoryDelete(tx, subjectId, occ.ID, models.ReferenceTypeOccurrence, occ, "Occurrence removed by reconciliation"); err != nil {
		return err
	}
	if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventOccurrenceDeleted, occ.ID, models.ReferenceTypeOccurrence, occ, prePublished); err != nil {
		return err
	}
	result.OccurrencesDeleted++
	return nil
}

func deleteMovement(ctx context.Context, tx *gorm.DB, subjectId string, m *models.Movement, result *SyncResult, prePublished bool) error {
	if err := tx.Delete(&models.Movement{}, m.ID).Error; err != nil {
		return err
	}
	if err := models.SaveHistoryDelete(tx, subjectId, m.ID, models.ReferenceTypeMovement, m, "Movement removed by reconciliation"); err != nil {
		return err
	}
	if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventMovementDeleted, m.ID, models.ReferenceTypeMovement, m, prePublished); err != nil {
		return err
	}
	result.MovementsDeleted++
	return nil
}

// applySnapshot merges the snapshot into the (possibly empty) existing
// hierarchy. Order matters: authorisations are settled first, then the
// occurrence level runs globally so an occurrence that changed parent
// re-parents instead of being deleted and recreated, then the movement level
// runs globally for the same reason. Deletes come last, children before
// parents, so no row is removed while something still references it. Then
// statuses are re-derived.
func applySnapshot(ctx context.Context, tx *gorm.DB, catalog *categorisation.Catalog, subjectId string, snapshot AbsenceSnapshot, existingAuths []models.Authorisation, existingUnscheduled []models.Movement, result *SyncResult, prePublished bool, now time.Time) error {
	authMatches, authCreates, authDeletes := matchAuthorisations(existingAuths, snapshot.Authorisations)

	// Every surviving authorisation, for the occurrence level and the
	// status pass, tagged onto its incoming occurrences.
	touched := make([]*models.Authorisation, 0, len(authMatches)+len(authCreates))
	var occTargets []occurrenceTarget

	for _, m := range authMatches {
		auth, err := applyAuthorisation(ctx, tx, catalog, subjectId, m.Existing, m.Incoming, result, prePublished)
		if err != nil {
			return err
		}
		for _, inOcc := range m.Incoming.Occurrences {
			occTargets = append(occTargets, occurrenceTarget{Incoming: inOcc, Auth: auth})
		}
		touched = append(touched, auth)
	}
	for _, in := range authCreates {
		auth, err := createAuthorisation(ctx, tx, catalog, subjectId, in, result, prePublished)
		if err != nil {
			return err
		}
		for _, inOcc := range in.Occurrences {
			occTargets = append(occTargets, occurrenceTarget{Incoming: inOcc, Auth: auth})
		}
		touched = append(touched, auth)
	}

	// Occurrence level: global across every existing authorisation, doomed
	// ones included, so a matched occurrence relocates to its new parent
	// before any deletion runs.
	allOccurrences := make([]models.Occurrence, 0)
	for i := range existingAuths {
		allOccurrences = append(allOccurrences, existingAuths[i].Occurrences...)
	}
	occMatches, occCreates, occDeletes := matchOccurrences(allOccurrences, occTargets)

	// Persisted occurrence id per snapshot occurrence key.
	occIdByKey := map[occurrenceKey]int{}
	for _, m := range occMatches {
		occ, err := applyOccurrence(ctx, tx, catalog, subjectId, m.Target.Auth, m.Existing, m.Target.Incoming, result, prePublished)
		if err != nil {
			return err
		}
		occIdByKey[occurrenceKey{Id: m.Target.Incoming.Id, LegacyId: m.Target.Incoming.LegacyId}] = occ.ID
	}
	for _, target := range occCreates {
		occ, err := createOccurrence(ctx, tx, catalog, subjectId, target.Auth, target.Incoming, result, prePublished)
		if err != nil {
			return err
		}
		occIdByKey[occurrenceKey{Id: target.Incoming.Id, LegacyId: target.Incoming.LegacyId}] = occ.ID
	}

	// Movement level: global, so a movement matched under a vacated
	// occurrence relocates before that occurrence is removed.
	allExisting := make([]models.Movement, 0, len(existingUnscheduled))
	for i := range existingAuths {
		for j := range existingAuths[i].Occurrences {
			allExisting = append(allExisting, existingAuths[i].Occurrences[j].Movements...)
		}
	}
	allExisting = append(allExisting, existingUnscheduled...)

	targets := collectMovementTargets(snapshot)
	mvMatches, mvCreates, mvDeletes := matchMovements(allExisting, targets)

	for _, m := range mvMatches {
		if err := applyMovement(ctx, tx, subjectId, m.Existing, m.Target, occIdByKey, result, prePublished); err != nil {
			return err
		}
	}
	for _, target := range mvCreates {
		if err := createMovement(ctx, tx, subjectId, target, occIdByKey, result, prePublished); err != nil {
			return err
		}
	}
	for _, m := range mvDeletes {
		if err := deleteMovement(ctx, tx, subjectId, m, result, prePublished); err != nil {
			return err
		}
	}

	// Occurrence removal happens only now: every movement has either
	// relocated or been deleted above, so the foreign key has nothing left
	// to object to.
	for _, occ := range occDeletes {
		if err := deleteVacatedOccurrence(ctx, tx, subjectId, occ, result, prePublished); err != nil {
			return err
		}
	}

	// Orphan authorisations last. Their occurrences were re-parented or
	// removed by the passes above, so the reload sees only what truly
	// remains.
	for _, a := range authDeletes {
		reloaded, err := reloadAuthorisation(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if err := deleteAuthorisationCascade(ctx, tx, subjectId, reloaded, result, prePublished); err != nil {
			return err
		}
	}

	// Status pass: re-derive every surviving occurrence from its parent's
	// settled status and the final movement set.
	for _, auth := range touched {
		if err := workflow.RecomputeOccurrenceStatuses(ctx, tx, auth, now); err != nil {
			return err
		}
	}
	return nil
}

func reloadAuthorisation(ctx context.Context, tx *gorm.DB, id int) (*models.Authorisation, error) {
	var auth models.Authorisation
	err := tx.WithContext(ctx).
		Preload("Occurrences").
		Preload("Occurrences.Movements").
		First(&auth, id).Error
	if err != nil {
		return nil, err
	}
	return &auth, nil
}

func resolveCategorisation(catalog *categorisation.Catalog, in CategorisationIn) (categorisation.ReasonPath, error) {
	return categorisation.Resolve(categorisation.ResolveRequest{
		TypeCode:           in.TypeCode,
		SubTypeCode:        in.SubTypeCode,
		ReasonCategoryCode: in.ReasonCategoryCode,
		ReasonCode:         in.ReasonCode,
	}, catalog)
}

func createAuthorisation(ctx context.Context, tx *gorm.DB, catalog *categorisation.Catalog, subjectId string, in AuthorisationIn, result *SyncResult, prePublished bool) (*models.Authorisation, error) {
	path, err := resolveCategorisation(catalog, in.Categorisation)
	if err != nil {
		return nil, err
	}
	status, err := models.ParseAuthorisationStatus(in.Status)
	if err != nil {
		return nil, utils.ErrValidationFailure("unknown authorisation status %q", in.Status)
	}
	locationsJSON, err := utils.MarshalToJSON(in.Locations)
	if err != nil {
		return nil, err
	}

	auth := models.Authorisation{
		SubjectId:          subjectId,
		PrisonId:           in.PrisonId,
		Status:             status,
		TypeCode:           in.Categorisation.TypeCode,
		SubTypeCode:        in.Categorisation.SubTypeCode,
		ReasonCategoryCode: in.Categorisation.ReasonCategoryCode,
		ReasonCode:         in.Categorisation.ReasonCode,
		ReasonPathJSON:     path.JSON(),
		Accompaniment:      in.Accompaniment,
		Transport:          in.Transport,
		RepeatFlag:         in.RepeatFlag,
		FromDate:           in.FromDate,
		ToDate:             in.ToDate,
		Comments:           in.Comments,
		LocationsJSON:      locationsJSON,
		LegacyId:           in.LegacyId,
	}
	if err := tx.WithContext(ctx).Create(&auth).Error; err != nil {
		return nil, err
	}
	if err := models.SaveHistoryCreate(tx, subjectId, auth.ID, models.ReferenceTypeAuthorisation, auth, "Authorisation created by reconciliation"); err != nil {
		return nil, err
	}
	if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventAuthorisationCreated, auth.ID, models.ReferenceTypeAuthorisation, auth, prePublished); err != nil {
		return nil, err
	}
	result.AuthorisationsCreated++
	return &auth, nil
}

// applyAuthorisation updates a matched authorisation in place. Identical
// fields are a no-op: no write, no audit fact, no event.
func applyAuthorisation(ctx context.Context, tx *gorm.DB, catalog *categorisation.Catalog, subjectId string, existing *models.Authorisation, in AuthorisationIn, result *SyncResult, prePublished bool) (*models.Authorisation, error) {
	path, err := resolveCategorisation(catalog, in.Categorisation)
	if err != nil {
		return nil, err
	}
	status, err := models.ParseAuthorisationStatus(in.Status)
	if err != nil {
		return nil, utils.ErrValidationFailure("unknown authorisation status %q", in.Status)
	}
	locationsJSON, err := utils.MarshalToJSON(in.Locations)
	if err != nil {
		return nil, err
	}

	if authorisationFieldsEqual(existing, in, status, path.JSON(), locationsJSON) {
		return existing, nil
	}

	before := *existing
	statusChanged := existing.Status != status

	existing.PrisonId = in.PrisonId
	existing.Status = status
	existing.TypeCode = in.Categorisation.TypeCode
	existing.SubTypeCode = in.Categorisation.SubTypeCode
	existing.ReasonCategoryCode = in.Categorisation.ReasonCategoryCode
	existing.ReasonCode = in.Categorisation.ReasonCode
	existing.ReasonPathJSON = path.JSON()
	existing.Accompaniment = in.Accompaniment
	existing.Transport = in.Transport
	existing.RepeatFlag = in.RepeatFlag
	existing.FromDate = in.FromDate
	existing.ToDate = in.ToDate
	existing.Comments = in.Comments
	existing.LocationsJSON = locationsJSON
	existing.LegacyId = in.LegacyId

	if err := tx.WithContext(ctx).Model(&models.Authorisation{}).
		Where("id = ?", existing.ID).
		Select("prison_id", "status", "type_code", "sub_type_code", "reason_category_code", "reason_code",
			"reason_path_json", "accompaniment", "transport", "repeat_flag", "from_date", "to_date",
			"comments", "locations_json", "legacy_id").
		Updates(existing).Error; err != nil {
		return nil, err
	}

	if err := models.SaveHistoryUpdate(tx, subjectId, existing.ID, models.ReferenceTypeAuthorisation, before, existing, "Authorisation updated by reconciliation"); err != nil {
		return nil, err
	}
	if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventAuthorisationUpdated, existing.ID, models.ReferenceTypeAuthorisation, existing, prePublished); err != nil {
		return nil, err
	}
	if statusChanged {
		if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventAuthorisationStatusChanged, existing.ID, models.ReferenceTypeAuthorisation, map[string]interface{}{
			"from": before.Status,
			"to":   status,
		}, prePublished); err != nil {
			return nil, err
		}
	}
	result.AuthorisationsUpdated++
	return existing, nil
}

// deleteVacatedOccurrence removes an occurrence no longer claimed by the
// snapshot. It runs after the movement pass, when every movement has already
// relocated or been deleted, so the row has no children left.
func deleteVacatedOccurrence(ctx context.Context, tx *gorm.DB, subjectId string, occ *models.Occurrence, result *SyncResult, prePublished bool) error {
	if err := tx.WithContext(ctx).Delete(&models.Occurrence{}, occ.ID).Error; err != nil {
		return err
	}
	if err := models.SaveHistoryDelete(tx, subjectId, occ.ID, models.ReferenceTypeOccurrence, occ, "Occurrence removed by reconciliation"); err != nil {
		return err
	}
	if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventOccurrenceDeleted, occ.ID, models.ReferenceTypeOccurrence, occ, prePublished); err != nil {
		return err
	}
	result.OccurrencesDeleted++
	return nil
}

// resolveOccurrenceCategorisation falls back to the parent authorisation's
// codes when a repeat-series occurrence carries none of its own.
func resolveOccurrenceCategorisation(catalog *categorisation.Catalog, in OccurrenceIn, auth *models.Authorisation) (CategorisationIn, categorisation.ReasonPath, error) {
	cat := in.Categorisation
	if cat.TypeCode == "" && cat.SubTypeCode == "" && cat.ReasonCategoryCode == "" && cat.ReasonCode == "" {
		cat = CategorisationIn{
			TypeCode:           auth.TypeCode,
			SubTypeCode:        auth.SubTypeCode,
			ReasonCategoryCode: auth.ReasonCategoryCode,
			ReasonCode:         auth.ReasonCode,
		}
	}
	path, err := resolveCategorisation(catalog, cat)
	if err != nil {
		return cat, nil, err
	}
	return cat, path, nil
}

func createOccurrence(ctx context.Context, tx *gorm.DB, catalog *categorisation.Catalog, subjectId string, auth *models.Authorisation, in OccurrenceIn, result *SyncResult, prePublished bool) (*models.Occurrence, error) {
	cat, path, err := resolveOccurrenceCategorisation(catalog, in, auth)
	if err != nil {
		return nil, err
	}

	occ := models.Occurrence{
		AuthorisationId:    auth.ID,
		Status:             models.OccurrenceStatusPending,
		TypeCode:           cat.TypeCode,
		SubTypeCode:        cat.SubTypeCode,
		ReasonCategoryCode: cat.ReasonCategoryCode,
		ReasonCode:         cat.ReasonCode,
		ReasonPathJSON:     path.JSON(),
		ReleaseAt:          in.ReleaseAt,
		ReturnBy:           in.ReturnBy,
		Location:           in.Location,
		ContactName:        in.ContactName,
		ContactPhone:       in.ContactPhone,
		Comments:           in.Comments,
		LegacyId:           in.LegacyId,
	}
	if err := tx.WithContext(ctx).Create(&occ).Error; err != nil {
		return nil, err
	}
	if err := models.SaveHistoryCreate(tx, subjectId, occ.ID, models.ReferenceTypeOccurrence, occ, "Occurrence created by reconciliation"); err != nil {
		return nil, err
	}
	if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventOccurrenceCreated, occ.ID, models.ReferenceTypeOccurrence, occ, prePublished); err != nil {
		return nil, err
	}
	result.OccurrencesCreated++
	return &occ, nil
}

func applyOccurrence(ctx context.Context, tx *gorm.DB, catalog *categorisation.Catalog, subjectId string, auth *models.Authorisation, existing *models.Occurrence, in OccurrenceIn, result *SyncResult, prePublished bool) (*models.Occurrence, error) {
	cat, path, err := resolveOccurrenceCategorisation(catalog, in, auth)
	if err != nil {
		return nil, err
	}
	normalised := in
	normalised.Categorisation = cat

	if occurrenceFieldsEqual(existing, normalised, path.JSON()) && existing.AuthorisationId == auth.ID {
		return existing, nil
	}

	before := *existing
	existing.AuthorisationId = auth.ID
	existing.TypeCode = cat.TypeCode
	existing.SubTypeCode = cat.SubTypeCode
	existing.ReasonCategoryCode = cat.ReasonCategoryCode
	existing.ReasonCode = cat.ReasonCode
	existing.ReasonPathJSON = path.JSON()
	existing.ReleaseAt = in.ReleaseAt
	existing.ReturnBy = in.ReturnBy
	existing.Location = in.Location
	existing.ContactName = in.ContactName
	existing.ContactPhone = in.ContactPhone
	existing.Comments = in.Comments
	existing.LegacyId = in.LegacyId

	if err := tx.WithContext(ctx).Model(&models.Occurrence{}).
		Where("id = ?", existing.ID).
		Select("authorisation_id", "type_code", "sub_type_code", "reason_category_code", "reason_code",
			"reason_path_json", "release_at", "return_by", "location", "contact_name", "contact_phone",
			"comments", "legacy_id").
		Updates(existing).Error; err != nil {
		return nil, err
	}
	if err := models.SaveHistoryUpdate(tx, subjectId, existing.ID, models.ReferenceTypeOccurrence, before, existing, "Occurrence updated by reconciliation"); err != nil {
		return nil, err
	}
	if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventOccurrenceUpdated, existing.ID, models.ReferenceTypeOccurrence, existing, prePublished); err != nil {
		return nil, err
	}
	result.OccurrencesUpdated++
	return existing, nil
}

func resolveTargetOccurrenceId(target movementTarget, occIdByKey map[occurrenceKey]int) (*int, error) {
	if target.OccurrenceKey == nil {
		return nil, nil
	}
	if id, ok := occIdByKey[*target.OccurrenceKey]; ok {
		return &id, nil
	}
	return nil, utils.ErrNotFound("movement names an occurrence absent from the snapshot")
}

func createMovement(ctx context.Context, tx *gorm.DB, subjectId string, target movementTarget, occIdByKey map[occurrenceKey]int, result *SyncResult, prePublished bool) error {
	occurrenceId, err := resolveTargetOccurrenceId(target, occIdByKey)
	if err != nil {
		return err
	}
	in := target.Incoming

	m := models.Movement{
		SubjectId:       subjectId,
		OccurrenceId:    occurrenceId,
		Direction:       models.MovementDirection(in.Direction),
		OccurredAt:      in.OccurredAt,
		ReasonCode:      in.ReasonCode,
		Accompaniment:   in.Accompaniment,
		Comments:        in.Comments,
		Location:        in.Location,
		RecordingPrison: in.RecordingPrison,
		LegacyId:        in.LegacyId,
	}
	if err := tx.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	if err := models.SaveHistoryCreate(tx, subjectId, m.ID, models.ReferenceTypeMovement, m, "Movement created by reconciliation"); err != nil {
		return err
	}
	if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventMovementCreated, m.ID, models.ReferenceTypeMovement, m, prePublished); err != nil {
		return err
	}
	result.MovementsCreated++
	return nil
}

// applyMovement updates a matched movement; a changed occurrence reference
// is a relocation and emits its own event.
func applyMovement(ctx context.Context, tx *gorm.DB, subjectId string, existing *models.Movement, target movementTarget, occIdByKey map[occurrenceKey]int, result *SyncResult, prePublished bool) error {
	occurrenceId, err := resolveTargetOccurrenceId(target, occIdByKey)
	if err != nil {
		return err
	}
	in := target.Incoming

	relocated := !sameOccurrenceTarget(existing, occurrenceId)
	if !relocated && movementFieldsEqual(existing, in) {
		return nil
	}

	before := *existing
	existing.OccurrenceId = occurrenceId
	existing.Direction = models.MovementDirection(in.Direction)
	existing.OccurredAt = in.OccurredAt
	existing.ReasonCode = in.ReasonCode
	existing.Accompaniment = in.Accompaniment
	existing.Comments = in.Comments
	existing.Location = in.Location
	existing.RecordingPrison = in.RecordingPrison
	existing.LegacyId = in.LegacyId

	if err := tx.WithContext(ctx).Model(&models.Movement{}).
		Where("id = ?", existing.ID).
		Select("occurrence_id", "direction", "occurred_at", "reason_code", "accompaniment",
			"comments", "location", "recording_prison", "legacy_id").
		Updates(map[string]interface{}{
			"occurrence_id":    existing.OccurrenceId,
			"direction":        existing.Direction,
			"occurred_at":      existing.OccurredAt,
			"reason_code":      existing.ReasonCode,
			"accompaniment":    existing.Accompaniment,
			"comments":         existing.Comments,
			"location":         existing.Location,
			"recording_prison": existing.RecordingPrison,
			"legacy_id":        existing.LegacyId,
		}).Error; err != nil {
		return err
	}

	if relocated {
		description := fmt.Sprintf("Movement relocated (occurrence %s -> %s)",
			describeOccurrenceRef(before.OccurrenceId), describeOccurrenceRef(occurrenceId))
		if err := models.SaveHistoryUpdate(tx, subjectId, existing.ID, models.ReferenceTypeMovement, before, existing, description); err != nil {
			return err
		}
		if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventMovementRelocated, existing.ID, models.ReferenceTypeMovement, map[string]interface{}{
			"fromOccurrenceId": before.OccurrenceId,
			"toOccurrenceId":   occurrenceId,
		}, prePublished); err != nil {
			return err
		}
		result.MovementsRelocated++
		return nil
	}

	if err := models.SaveHistoryUpdate(tx, subjectId, existing.ID, models.ReferenceTypeMovement, before, existing, "Movement updated by reconciliation"); err != nil {
		return err
	}
	if _, err := models.AppendDomainEvent(ctx, tx, subjectId, models.EventMovementUpdated, existing.ID, models.ReferenceTypeMovement, existing, prePublished); err != nil {
		return err
	}
	result.MovementsUpdated++
	return nil
}

func describeOccurrenceRef(id *int) string {
	if id == nil {
		return "unscheduled"
	}
	return fmt.Sprintf("%d", *id)
}
