package legacysync

import (
	"testing"
	"time"

	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
)

// NOTE: These tests are intentionally DB-free. They validate the merge
// matching semantics on plain slices; the engine applies the same plans
// inside its transaction.

func legacy(n int64) *int64 { return &n }

func TestMatchAuthorisationsByIdThenLegacyId(t *testing.T) {
	existing := []models.Authorisation{
		{ID: 1, LegacyId: legacy(100)},
		{ID: 2, LegacyId: legacy(200)},
		{ID: 3},
	}
	incoming := []AuthorisationIn{
		{Id: 1},                 // matched by internal id
		{LegacyId: legacy(200)}, // matched by legacy id
		{LegacyId: legacy(999)}, // unknown legacy id -> create
	}

	matches, creates, deletes := matchAuthorisations(existing, incoming)

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Existing.ID != 1 || matches[1].Existing.ID != 2 {
		t.Fatalf("matched wrong rows: %d, %d", matches[0].Existing.ID, matches[1].Existing.ID)
	}
	if len(creates) != 1 || *creates[0].LegacyId != 999 {
		t.Fatalf("expected 1 create with legacy id 999, got %+v", creates)
	}
	if len(deletes) != 1 || deletes[0].ID != 3 {
		t.Fatalf("expected row 3 deleted, got %+v", deletes)
	}
}

func TestMatchAuthorisationsInternalIdWinsOverLegacy(t *testing.T) {
	existing := []models.Authorisation{
		{ID: 1, LegacyId: legacy(100)},
		{ID: 2, LegacyId: legacy(200)},
	}
	// Internal id points at row 2 even though the legacy id names row 1.
	incoming := []AuthorisationIn{{Id: 2, LegacyId: legacy(100)}}

	matches, _, deletes := matchAuthorisations(existing, incoming)
	if len(matches) != 1 || matches[0].Existing.ID != 2 {
		t.Fatalf("expected internal id to win, got %+v", matches)
	}
	if len(deletes) != 1 || deletes[0].ID != 1 {
		t.Fatalf("expected row 1 deleted, got %+v", deletes)
	}
}

func TestMatchOccurrencesReparentsAcrossAuthorisations(t *testing.T) {
	authB := &models.Authorisation{ID: 2}
	existing := []models.Occurrence{
		{ID: 10, AuthorisationId: 1, LegacyId: legacy(500)},
		{ID: 11, AuthorisationId: 1, LegacyId: legacy(600)},
	}
	// Occurrence 500 now arrives under a different authorisation; 600 is gone.
	targets := []occurrenceTarget{
		{Incoming: OccurrenceIn{LegacyId: legacy(500)}, Auth: authB},
	}

	matches, creates, deletes := matchOccurrences(existing, targets)

	if len(creates) != 0 {
		t.Fatalf("re-parenting must not produce a create: %+v", creates)
	}
	if len(matches) != 1 || matches[0].Existing.ID != 10 || matches[0].Target.Auth.ID != 2 {
		t.Fatalf("occurrence 10 should match under authorisation 2, got %+v", matches)
	}
	if len(deletes) != 1 || deletes[0].ID != 11 {
		t.Fatalf("expected occurrence 11 deleted, got %+v", deletes)
	}
}

func TestMatchMovementsDetectsReparenting(t *testing.T) {
	occ5 := 5
	existing := []models.Movement{
		{ID: 10, LegacyId: legacy(1000), OccurrenceId: &occ5},
		{ID: 11, LegacyId: legacy(1100)},
	}
	snapshot := AbsenceSnapshot{
		// Movement 1000 is now unscheduled; movement 1100 now belongs to an
		// occurrence.
		Authorisations: []AuthorisationIn{{
			LegacyId: legacy(1),
			Occurrences: []OccurrenceIn{{
				LegacyId:  legacy(50),
				Movements: []MovementIn{{LegacyId: legacy(1100), Direction: "OUT"}},
			}},
		}},
		UnscheduledMovements: []MovementIn{{LegacyId: legacy(1000), Direction: "IN"}},
	}

	targets := collectMovementTargets(snapshot)
	matches, creates, deletes := matchMovements(existing, targets)

	if len(creates) != 0 || len(deletes) != 0 {
		t.Fatalf("re-parenting must not produce creates or deletes: %d creates, %d deletes", len(creates), len(deletes))
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	for _, m := range matches {
		switch m.Existing.ID {
		case 10:
			if m.Target.OccurrenceKey != nil {
				t.Fatalf("movement 10 should end up unscheduled")
			}
		case 11:
			if m.Target.OccurrenceKey == nil || *m.Target.OccurrenceKey.LegacyId != 50 {
				t.Fatalf("movement 11 should target occurrence legacy 50")
			}
		}
	}
}

func TestSameOccurrenceTarget(t *testing.T) {
	five, six := 5, 6
	if !sameOccurrenceTarget(&models.Movement{OccurrenceId: &five}, &five) {
		t.Fatal("same occurrence should not count as relocation")
	}
	if sameOccurrenceTarget(&models.Movement{OccurrenceId: &five}, &six) {
		t.Fatal("different occurrence must count as relocation")
	}
	if sameOccurrenceTarget(&models.Movement{OccurrenceId: &five}, nil) {
		t.Fatal("scheduled to unscheduled must count as relocation")
	}
	if !sameOccurrenceTarget(&models.Movement{}, nil) {
		t.Fatal("unscheduled staying unscheduled is not a relocation")
	}
}

func TestMovementFieldsEqualIgnoresSubSecond(t *testing.T) {
	at := time.Date(2026, 2, 1, 9, 30, 15, 0, time.UTC)
	existing := &models.Movement{
		Direction:  models.MovementDirectionOut,
		OccurredAt: at,
		ReasonCode: "R15",
	}
	in := MovementIn{
		Direction:  "OUT",
		OccurredAt: at.Add(300 * time.Millisecond),
		ReasonCode: "R15",
	}
	if !movementFieldsEqual(existing, in) {
		t.Fatal("sub-second drift must not break the no-op guarantee")
	}
	in.ReasonCode = "R16"
	if movementFieldsEqual(existing, in) {
		t.Fatal("changed reason code must be detected")
	}
}

func TestValidateSnapshotRejectsInvertedRanges(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	err := validateSnapshot("A1234BC", AbsenceSnapshot{
		Authorisations: []AuthorisationIn{{Status: "APPROVED", FromDate: from, ToDate: to}},
	})
	if utils.KindOf(err) != utils.ErrKindValidationFailure {
		t.Fatalf("expected ValidationFailure, got %v", err)
	}
}

func TestValidateSnapshotRejectsWindowOutsideRange(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	err := validateSnapshot("A1234BC", AbsenceSnapshot{
		Authorisations: []AuthorisationIn{{
			Status:   "APPROVED",
			FromDate: from,
			ToDate:   to,
			Occurrences: []OccurrenceIn{{
				ReleaseAt: to.AddDate(0, 0, 2),
				ReturnBy:  to.AddDate(0, 0, 3),
			}},
		}},
	})
	if utils.KindOf(err) != utils.ErrKindValidationFailure {
		t.Fatalf("expected ValidationFailure, got %v", err)
	}
}

func TestOccurrenceWindowWithinRange(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	inside := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	if !occurrenceWindowWithinRange(inside, inside.Add(8*time.Hour), from, to) {
		t.Fatal("window inside the range must pass")
	}
	// The final day counts in full.
	lastDay := time.Date(2026, 5, 10, 22, 0, 0, 0, time.UTC)
	if !occurrenceWindowWithinRange(lastDay, lastDay.Add(time.Hour), from, to) {
		t.Fatal("a window late on the final day still sits inside the range")
	}
	if occurrenceWindowWithinRange(from.AddDate(0, 0, -1), inside, from, to) {
		t.Fatal("release before the range must fail")
	}
	if occurrenceWindowWithinRange(inside, to.AddDate(0, 0, 2), from, to) {
		t.Fatal("return after the range must fail")
	}
}

func TestValidateSnapshotAcceptsPartialSnapshot(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	// An authorisation with zero occurrences is valid, not an error.
	err := validateSnapshot("A1234BC", AbsenceSnapshot{
		Authorisations: []AuthorisationIn{{Status: "PENDING", FromDate: from, ToDate: to}},
	})
	if err != nil {
		t.Fatalf("partial snapshot should validate: %v", err)
	}
}

func TestValidateSnapshotRejectsUnknownStatusAndDirection(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	err := validateSnapshot("A1234BC", AbsenceSnapshot{
		Authorisations: []AuthorisationIn{{Status: "GRANTED", FromDate: from, ToDate: to}},
	})
	if utils.KindOf(err) != utils.ErrKindValidationFailure {
		t.Fatalf("expected ValidationFailure for unknown status, got %v", err)
	}

	err = validateSnapshot("A1234BC", AbsenceSnapshot{
		UnscheduledMovements: []MovementIn{{Direction: "SIDEWAYS"}},
	})
	if utils.KindOf(err) != utils.ErrKindValidationFailure {
		t.Fatalf("expected ValidationFailure for unknown direction, got %v", err)
	}
}
