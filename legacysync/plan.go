package legacysync

import (
	"strings"
	"time"

	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
)

// Legacy feeds truncate sub-second components, so equality checks compare
// at second precision.
const timeGranularity = time.Second

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}

// occurrenceWindowWithinRange reports whether an occurrence window sits
// inside the authorisation date range, comparing against whole days.
func occurrenceWindowWithinRange(releaseAt, returnBy, fromDate, toDate time.Time) bool {
	return !releaseAt.Before(startOfDay(fromDate)) && !returnBy.After(endOfDay(toDate))
}

// Matching is identity-based, never positional: internal id wins, then
// legacy id. Everything in this file is pure so the merge semantics can be
// tested without a database.

type authMatch struct {
	Existing *models.Authorisation
	Incoming AuthorisationIn
}

// occurrenceTarget names where an inbound occurrence should live after the
// run: under the settled authorisation it arrived with in the snapshot.
type occurrenceTarget struct {
	Incoming OccurrenceIn
	Auth     *models.Authorisation
}

type occurrenceMatch struct {
	Existing *models.Occurrence
	Target   occurrenceTarget
}

// movementTarget names where an inbound movement should live after the run:
// attached to the occurrence with OccurrenceKey, or unscheduled when nil.
type movementTarget struct {
	Incoming      MovementIn
	OccurrenceKey *occurrenceKey
}

// occurrenceKey identifies an occurrence in the incoming snapshot before
// database ids are assigned.
type occurrenceKey struct {
	Id       int
	LegacyId *int64
}

type movementMatch struct {
	Existing *models.Movement
	Target   movementTarget
}

// matchAuthorisations pairs existing rows with snapshot entries. Unpaired
// snapshot entries are creates; unpaired existing rows are deletes.
func matchAuthorisations(existing []models.Authorisation, incoming []AuthorisationIn) (matches []authMatch, creates []AuthorisationIn, deletes []*models.Authorisation) {
	byId := make(map[int]*models.Authorisation, len(existing))
	byLegacy := make(map[int64]*models.Authorisation, len(existing))
	for i := range existing {
		byId[existing[i].ID] = &existing[i]
		if existing[i].LegacyId != nil {
			byLegacy[*existing[i].LegacyId] = &existing[i]
		}
	}

	claimed := make(map[int]bool, len(existing))
	for _, in := range incoming {
		var found *models.Authorisation
		if in.Id != 0 {
			found = byId[in.Id]
		}
		if found == nil && in.LegacyId != nil {
			found = byLegacy[*in.LegacyId]
		}
		if found == nil || claimed[found.ID] {
			creates = append(creates, in)
			continue
		}
		claimed[found.ID] = true
		matches = append(matches, authMatch{Existing: found, Incoming: in})
	}

	for i := range existing {
		if !claimed[existing[i].ID] {
			deletes = append(deletes, &existing[i])
		}
	}
	return matches, creates, deletes
}

// matchOccurrences pairs every existing occurrence for the subject,
// regardless of current parent, against the snapshot's occurrence targets. A
// matched occurrence whose target names a different authorisation re-parents
// in place, so an occurrence that moved between authorisations in one merge
// never collides with itself as a delete plus a create.
func matchOccurrences(existing []models.Occurrence, targets []occurrenceTarget) (matches []occurrenceMatch, creates []occurrenceTarget, deletes []*models.Occurrence) {
	byId := make(map[int]*models.Occurrence, len(existing))
	byLegacy := make(map[int64]*models.Occurrence, len(existing))
	for i := range existing {
		byId[existing[i].ID] = &existing[i]
		if existing[i].LegacyId != nil {
			byLegacy[*existing[i].LegacyId] = &existing[i]
		}
	}

	claimed := make(map[int]bool, len(existing))
	for _, target := range targets {
		var found *models.Occurrence
		if target.Incoming.Id != 0 {
			found = byId[target.Incoming.Id]
		}
		if found == nil && target.Incoming.LegacyId != nil {
			found = byLegacy[*target.Incoming.LegacyId]
		}
		if found == nil || claimed[found.ID] {
			creates = append(creates, target)
			continue
		}
		claimed[found.ID] = true
		matches = append(matches, occurrenceMatch{Existing: found, Target: target})
	}

	for i := range existing {
		if !claimed[existing[i].ID] {
			deletes = append(deletes, &existing[i])
		}
	}
	return matches, creates, deletes
}

// collectMovementTargets flattens the snapshot's movements, scheduled and
// unscheduled alike, each tagged with its destination occurrence.
func collectMovementTargets(snapshot AbsenceSnapshot) []movementTarget {
	var targets []movementTarget
	for _, auth := range snapshot.Authorisations {
		for _, occ := range auth.Occurrences {
			key := occurrenceKey{Id: occ.Id, LegacyId: occ.LegacyId}
			for _, m := range occ.Movements {
				targets = append(targets, movementTarget{Incoming: m, OccurrenceKey: &key})
			}
		}
	}
	for _, m := range snapshot.UnscheduledMovements {
		targets = append(targets, movementTarget{Incoming: m})
	}
	return targets
}

// matchMovements pairs every existing movement for the subject, regardless
// of current parent, against the snapshot's movement targets. A matched
// movement whose target names a different occurrence is a relocation, not a
// delete+create; identity survives re-parenting.
func matchMovements(existing []models.Movement, targets []movementTarget) (matches []movementMatch, creates []movementTarget, deletes []*models.Movement) {
	byId := make(map[int]*models.Movement, len(existing))
	byLegacy := make(map[int64]*models.Movement, len(existing))
	for i := range existing {
		byId[existing[i].ID] = &existing[i]
		if existing[i].LegacyId != nil {
			byLegacy[*existing[i].LegacyId] = &existing[i]
		}
	}

	claimed := make(map[int]bool, len(existing))
	for _, target := range targets {
		var found *models.Movement
		if target.Incoming.Id != 0 {
			found = byId[target.Incoming.Id]
		}
		if found == nil && target.Incoming.LegacyId != nil {
			found = byLegacy[*target.Incoming.LegacyId]
		}
		if found == nil || claimed[found.ID] {
			creates = append(creates, target)
			continue
		}
		claimed[found.ID] = true
		matches = append(matches, movementMatch{Existing: found, Target: target})
	}

	for i := range existing {
		if !claimed[existing[i].ID] {
			deletes = append(deletes, &existing[i])
		}
	}
	return matches, creates, deletes
}

// authorisationFieldsEqual reports whether applying the incoming record
// (with its already-resolved path and status) would change nothing. The
// no-op guarantee rests on this: equal rows append no audit fact and no
// event.
func authorisationFieldsEqual(existing *models.Authorisation, in AuthorisationIn, status models.AuthorisationStatus, pathJSON string, locationsJSON string) bool {
	return existing.Status == status &&
		existing.PrisonId == in.PrisonId &&
		existing.TypeCode == in.Categorisation.TypeCode &&
		existing.SubTypeCode == in.Categorisation.SubTypeCode &&
		existing.ReasonCategoryCode == in.Categorisation.ReasonCategoryCode &&
		existing.ReasonCode == in.Categorisation.ReasonCode &&
		existing.ReasonPathJSON == pathJSON &&
		existing.Accompaniment == in.Accompaniment &&
		existing.Transport == in.Transport &&
		existing.RepeatFlag == in.RepeatFlag &&
		sameDate(existing.FromDate, in.FromDate) &&
		sameDate(existing.ToDate, in.ToDate) &&
		existing.Comments == in.Comments &&
		existing.LocationsJSON == locationsJSON &&
		utils.PtrEqual(existing.LegacyId, in.LegacyId)
}

func occurrenceFieldsEqual(existing *models.Occurrence, in OccurrenceIn, pathJSON string) bool {
	return existing.TypeCode == in.Categorisation.TypeCode &&
		existing.SubTypeCode == in.Categorisation.SubTypeCode &&
		existing.ReasonCategoryCode == in.Categorisation.ReasonCategoryCode &&
		existing.ReasonCode == in.Categorisation.ReasonCode &&
		existing.ReasonPathJSON == pathJSON &&
		existing.ReleaseAt.Truncate(timeGranularity).Equal(in.ReleaseAt.Truncate(timeGranularity)) &&
		existing.ReturnBy.Truncate(timeGranularity).Equal(in.ReturnBy.Truncate(timeGranularity)) &&
		existing.Location == in.Location &&
		existing.ContactName == in.ContactName &&
		existing.ContactPhone == in.ContactPhone &&
		existing.Comments == in.Comments &&
		utils.PtrEqual(existing.LegacyId, in.LegacyId)
}

func movementFieldsEqual(existing *models.Movement, in MovementIn) bool {
	return string(existing.Direction) == in.Direction &&
		existing.OccurredAt.Truncate(timeGranularity).Equal(in.OccurredAt.Truncate(timeGranularity)) &&
		existing.ReasonCode == in.ReasonCode &&
		existing.Accompaniment == in.Accompaniment &&
		existing.Comments == in.Comments &&
		existing.Location == in.Location &&
		existing.RecordingPrison == in.RecordingPrison &&
		utils.PtrEqual(existing.LegacyId, in.LegacyId)
}

// sameOccurrenceTarget reports whether a matched movement already lives
// under the occurrence its target names. resolvedId maps the snapshot
// occurrence key to the persisted occurrence id after the occurrence level
// has been applied.
func sameOccurrenceTarget(existing *models.Movement, resolvedOccurrenceId *int) bool {
	if existing.OccurrenceId == nil && resolvedOccurrenceId == nil {
		return true
	}
	if existing.OccurrenceId == nil || resolvedOccurrenceId == nil {
		return false
	}
	return *existing.OccurrenceId == *resolvedOccurrenceId
}

// validateSnapshot applies the structural rules that do not need catalog or
// store access: non-inverted ranges, occurrence windows inside the
// authorisation range, known directions.
func validateSnapshot(subjectId string, snapshot AbsenceSnapshot) error {
	if strings.TrimSpace(subjectId) == "" {
		return utils.ErrValidationFailure("subjectId is required")
	}
	for _, auth := range snapshot.Authorisations {
		if auth.ToDate.Before(auth.FromDate) {
			return utils.ErrValidationFailure("authorisation date range is inverted (%s after %s)",
				auth.FromDate.Format("2006-01-02"), auth.ToDate.Format("2006-01-02"))
		}
		if _, err := models.ParseAuthorisationStatus(auth.Status); err != nil {
			return utils.ErrValidationFailure("unknown authorisation status %q", auth.Status)
		}
		for _, occ := range auth.Occurrences {
			if occ.ReturnBy.Before(occ.ReleaseAt) {
				return utils.ErrValidationFailure("occurrence window is inverted")
			}
			if !occurrenceWindowWithinRange(occ.ReleaseAt, occ.ReturnBy, auth.FromDate, auth.ToDate) {
				return utils.ErrValidationFailure("occurrence window falls outside the authorisation date range")
			}
			for _, m := range occ.Movements {
				if _, err := models.ParseMovementDirection(m.Direction); err != nil {
					return utils.ErrValidationFailure("unknown movement direction %q", m.Direction)
				}
			}
		}
	}
	for _, m := range snapshot.UnscheduledMovements {
		if _, err := models.ParseMovementDirection(m.Direction); err != nil {
			return utils.ErrValidationFailure("unknown movement direction %q", m.Direction)
		}
	}
	return nil
}
