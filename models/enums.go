package models

import (
	"errors"
)

// AuthorisationStatus is the lifecycle state of a temporary absence
// authorisation. Transitions happen only through explicit actions
// (workflow package), never free-form writes.
type AuthorisationStatus string

const (
	AuthorisationStatusPending   AuthorisationStatus = "PENDING"
	AuthorisationStatusApproved  AuthorisationStatus = "APPROVED"
	AuthorisationStatusDenied    AuthorisationStatus = "DENIED"
	AuthorisationStatusCancelled AuthorisationStatus = "CANCELLED"
	AuthorisationStatusExpired   AuthorisationStatus = "EXPIRED"
)

func ParseAuthorisationStatus(s string) (AuthorisationStatus, error) {
	switch AuthorisationStatus(s) {
	case AuthorisationStatusPending, AuthorisationStatusApproved, AuthorisationStatusDenied,
		AuthorisationStatusCancelled, AuthorisationStatusExpired:
		return AuthorisationStatus(s), nil
	}
	return "", errors.New("invalid authorisation status: " + s)
}

// OccurrenceStatus is derived, not authored: a pure function of the parent
// authorisation status, the occurrence window and the attached movements.
type OccurrenceStatus string

const (
	OccurrenceStatusPending    OccurrenceStatus = "PENDING"
	OccurrenceStatusScheduled  OccurrenceStatus = "SCHEDULED"
	OccurrenceStatusInProgress OccurrenceStatus = "IN_PROGRESS"
	OccurrenceStatusOverdue    OccurrenceStatus = "OVERDUE"
	OccurrenceStatusCompleted  OccurrenceStatus = "COMPLETED"
	OccurrenceStatusCancelled  OccurrenceStatus = "CANCELLED"
	OccurrenceStatusDenied     OccurrenceStatus = "DENIED"
	OccurrenceStatusExpired    OccurrenceStatus = "EXPIRED"
)

// MovementDirection records a physical departure or return.
type MovementDirection string

const (
	MovementDirectionOut MovementDirection = "OUT"
	MovementDirectionIn  MovementDirection = "IN"
)

func ParseMovementDirection(s string) (MovementDirection, error) {
	switch MovementDirection(s) {
	case MovementDirectionOut, MovementDirectionIn:
		return MovementDirection(s), nil
	}
	return "", errors.New("invalid movement direction: " + s)
}

// SourceOfChange values stamped into audit facts and events via context.
const (
	SourceLegacySync = "LEGACY_SYNC"
	SourceMigration  = "MIGRATION"
	SourceLocal      = "LOCAL"
	SourceSweep      = "STATUS_SWEEP"
)

// Entity reference types for audit facts, events and identity matching.
const (
	ReferenceTypeAuthorisation = "Authorisation"
	ReferenceTypeOccurrence    = "Occurrence"
	ReferenceTypeMovement      = "Movement"
)
