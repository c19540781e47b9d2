package workflow

import (
	"testing"
	"time"

	"github.com/custodia-platform/absences_backend/models"
)

// NOTE: These tests are intentionally DB-free. Occurrence status is a pure
// function of (authorisation status, window, movement set, now); the stored
// column is only a cache of this derivation.

func mv(direction models.MovementDirection, at time.Time) models.Movement {
	return models.Movement{Direction: direction, OccurredAt: at}
}

func TestDeriveOccurrenceStatus(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	pastEnd := now.Add(-24 * time.Hour)
	futureStart := now.Add(24 * time.Hour)
	futureEnd := now.Add(48 * time.Hour)
	started := now.Add(-2 * time.Hour)

	tests := []struct {
		name       string
		authStatus models.AuthorisationStatus
		releaseAt  time.Time
		returnBy   time.Time
		movements  []models.Movement
		want       models.OccurrenceStatus
	}{
		{
			name:       "pending authorisation keeps occurrence pending",
			authStatus: models.AuthorisationStatusPending,
			releaseAt:  futureStart, returnBy: futureEnd,
			want: models.OccurrenceStatusPending,
		},
		{
			name:       "denied authorisation denies occurrence",
			authStatus: models.AuthorisationStatusDenied,
			releaseAt:  futureStart, returnBy: futureEnd,
			want: models.OccurrenceStatusDenied,
		},
		{
			name:       "approved future window is scheduled",
			authStatus: models.AuthorisationStatusApproved,
			releaseAt:  futureStart, returnBy: futureEnd,
			want: models.OccurrenceStatusScheduled,
		},
		{
			name:       "approved elapsed window with no movement expires",
			authStatus: models.AuthorisationStatusApproved,
			releaseAt:  past, returnBy: pastEnd,
			want: models.OccurrenceStatusExpired,
		},
		{
			name:       "out with no in and window open is in progress",
			authStatus: models.AuthorisationStatusApproved,
			releaseAt:  started, returnBy: futureEnd,
			movements: []models.Movement{mv(models.MovementDirectionOut, started)},
			want:      models.OccurrenceStatusInProgress,
		},
		{
			name:       "out with no in past window end is overdue",
			authStatus: models.AuthorisationStatusApproved,
			releaseAt:  past, returnBy: pastEnd,
			movements: []models.Movement{mv(models.MovementDirectionOut, past)},
			want:      models.OccurrenceStatusOverdue,
		},
		{
			name:       "out then in completes",
			authStatus: models.AuthorisationStatusApproved,
			releaseAt:  past, returnBy: futureEnd,
			movements: []models.Movement{
				mv(models.MovementDirectionOut, past),
				mv(models.MovementDirectionIn, started),
			},
			want: models.OccurrenceStatusCompleted,
		},
		{
			name:       "out in out leaves subject out again",
			authStatus: models.AuthorisationStatusApproved,
			releaseAt:  past, returnBy: futureEnd,
			movements: []models.Movement{
				mv(models.MovementDirectionOut, past),
				mv(models.MovementDirectionIn, past.Add(time.Hour)),
				mv(models.MovementDirectionOut, started),
			},
			want: models.OccurrenceStatusInProgress,
		},
		{
			name:       "movement order is by occurredAt not slice order",
			authStatus: models.AuthorisationStatusApproved,
			releaseAt:  past, returnBy: futureEnd,
			movements: []models.Movement{
				mv(models.MovementDirectionIn, started),
				mv(models.MovementDirectionOut, past),
			},
			want: models.OccurrenceStatusCompleted,
		},
		{
			name:       "cancelled authorisation cancels future occurrence",
			authStatus: models.AuthorisationStatusCancelled,
			releaseAt:  futureStart, returnBy: futureEnd,
			want: models.OccurrenceStatusCancelled,
		},
		{
			name:       "cancelled authorisation expires past occurrence",
			authStatus: models.AuthorisationStatusCancelled,
			releaseAt:  past, returnBy: pastEnd,
			want: models.OccurrenceStatusExpired,
		},
		{
			name:       "cancelled authorisation keeps completed occurrence cancelled",
			authStatus: models.AuthorisationStatusCancelled,
			releaseAt:  past, returnBy: pastEnd,
			movements: []models.Movement{
				mv(models.MovementDirectionOut, past),
				mv(models.MovementDirectionIn, past.Add(time.Hour)),
			},
			want: models.OccurrenceStatusCancelled,
		},
		{
			name:       "expired authorisation expires occurrence",
			authStatus: models.AuthorisationStatusExpired,
			releaseAt:  futureStart, returnBy: futureEnd,
			want: models.OccurrenceStatusExpired,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveOccurrenceStatus(tc.authStatus, tc.releaseAt, tc.returnBy, tc.movements, now)
			if got != tc.want {
				t.Fatalf("DeriveOccurrenceStatus = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDeriveOccurrenceStatusIsDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	movements := []models.Movement{
		mv(models.MovementDirectionOut, now.Add(-3*time.Hour)),
		mv(models.MovementDirectionIn, now.Add(-time.Hour)),
	}
	first := DeriveOccurrenceStatus(models.AuthorisationStatusApproved, now.Add(-4*time.Hour), now.Add(time.Hour), movements, now)
	for i := 0; i < 10; i++ {
		again := DeriveOccurrenceStatus(models.AuthorisationStatusApproved, now.Add(-4*time.Hour), now.Add(time.Hour), movements, now)
		if again != first {
			t.Fatalf("derivation not deterministic: %s then %s", first, again)
		}
	}
}
