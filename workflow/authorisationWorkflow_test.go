package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
)

func TestNextAuthorisationStatus(t *testing.T) {
	tests := []struct {
		current models.AuthorisationStatus
		action  AuthorisationAction
		want    models.AuthorisationStatus
		wantErr bool
	}{
		{models.AuthorisationStatusPending, ActionApprove, models.AuthorisationStatusApproved, false},
		{models.AuthorisationStatusPending, ActionDeny, models.AuthorisationStatusDenied, false},
		{models.AuthorisationStatusPending, ActionExpire, models.AuthorisationStatusExpired, false},
		{models.AuthorisationStatusApproved, ActionCancel, models.AuthorisationStatusCancelled, false},
		{models.AuthorisationStatusDenied, ActionDefer, models.AuthorisationStatusPending, false},
		{models.AuthorisationStatusCancelled, ActionDefer, models.AuthorisationStatusPending, false},
		{models.AuthorisationStatusExpired, ActionDefer, models.AuthorisationStatusPending, false},

		{models.AuthorisationStatusDenied, ActionApprove, "", true},
		{models.AuthorisationStatusApproved, ActionApprove, "", true},
		{models.AuthorisationStatusPending, ActionCancel, "", true},
		{models.AuthorisationStatusApproved, ActionExpire, "", true},
		{models.AuthorisationStatusPending, ActionDefer, "", true},
		{models.AuthorisationStatusApproved, ActionDefer, "", true},
	}

	for _, tc := range tests {
		got, err := NextAuthorisationStatus(tc.current, tc.action)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s from %s: expected error, got %s", tc.action, tc.current, got)
			}
			var de *utils.DomainError
			if !errors.As(err, &de) || de.Kind != utils.ErrKindInvalidStateTransition {
				t.Fatalf("%s from %s: expected InvalidStateTransition kind, got %v", tc.action, tc.current, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s from %s: unexpected error %v", tc.action, tc.current, err)
		}
		if got != tc.want {
			t.Fatalf("%s from %s = %s, want %s", tc.action, tc.current, got, tc.want)
		}
	}
}

func TestGuardActionWindow(t *testing.T) {
	today := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	past := &models.Authorisation{ID: 1, ToDate: today.AddDate(0, 0, -3)}
	open := &models.Authorisation{ID: 2, ToDate: today.AddDate(0, 0, 3)}
	endsToday := &models.Authorisation{ID: 3, ToDate: today}

	tests := []struct {
		name    string
		auth    *models.Authorisation
		action  AuthorisationAction
		wantErr bool
	}{
		{"approve open window", open, ActionApprove, false},
		{"approve ending today", endsToday, ActionApprove, false},
		{"approve past end date", past, ActionApprove, true},
		{"defer open window", open, ActionDefer, false},
		{"defer past end date", past, ActionDefer, true},
		{"expire past end date", past, ActionExpire, false},
		{"expire open window", open, ActionExpire, true},
		{"expire ending today", endsToday, ActionExpire, true},
		{"deny ignores the window", past, ActionDeny, false},
		{"cancel ignores the window", past, ActionCancel, false},
	}

	for _, tc := range tests {
		err := guardActionWindow(tc.auth, tc.action, today)
		if tc.wantErr {
			if utils.KindOf(err) != utils.ErrKindInvalidStateTransition {
				t.Fatalf("%s: expected InvalidStateTransition, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestNextAuthorisationStatusUnknownAction(t *testing.T) {
	_, err := NextAuthorisationStatus(models.AuthorisationStatusPending, AuthorisationAction("archive"))
	if utils.KindOf(err) != utils.ErrKindValidationFailure {
		t.Fatalf("expected ValidationFailure for unknown action, got %v", err)
	}
}
