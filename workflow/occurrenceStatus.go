package workflow

import (
	"sort"
	"time"

	"github.com/custodia-platform/absences_backend/models"
)

// DeriveOccurrenceStatus computes an occurrence's status from its parent
// authorisation's status, its time window and its recorded movements. It is
// a pure function: the same inputs always produce the same status, and the
// stored status column is only ever a cache of this result.
func DeriveOccurrenceStatus(authStatus models.AuthorisationStatus, releaseAt time.Time, returnBy time.Time, movements []models.Movement, now time.Time) models.OccurrenceStatus {
	switch authStatus {
	case models.AuthorisationStatusPending:
		return models.OccurrenceStatusPending
	case models.AuthorisationStatusDenied:
		return models.OccurrenceStatusDenied
	case models.AuthorisationStatusExpired:
		return models.OccurrenceStatusExpired
	case models.AuthorisationStatusCancelled:
		// Cancelling an authorisation expires occurrences already in the
		// past and cancels the rest.
		if now.After(returnBy) && !hasMovement(movements) {
			return models.OccurrenceStatusExpired
		}
		return models.OccurrenceStatusCancelled
	}

	// APPROVED from here on.
	if !hasMovement(movements) {
		if now.After(returnBy) {
			return models.OccurrenceStatusExpired
		}
		return models.OccurrenceStatusScheduled
	}

	if hasOutstandingOut(movements) {
		if now.After(returnBy) {
			return models.OccurrenceStatusOverdue
		}
		// An OUT recorded before the window opens still means the subject
		// is out of the establishment.
		return models.OccurrenceStatusInProgress
	}

	return models.OccurrenceStatusCompleted
}

func hasMovement(movements []models.Movement) bool {
	return len(movements) > 0
}

// hasOutstandingOut reports whether the latest movement by occurredAt is an
// OUT, i.e. the subject left and has not been recorded back in.
func hasOutstandingOut(movements []models.Movement) bool {
	if len(movements) == 0 {
		return false
	}
	sorted := make([]models.Movement, len(movements))
	copy(sorted, movements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})
	return sorted[len(sorted)-1].Direction == models.MovementDirectionOut
}
