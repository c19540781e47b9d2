package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Domain event types emitted by reconciliation and the action workflows.
const (
	EventAuthorisationCreated       = "absence.authorisation.created"
	EventAuthorisationUpdated       = "absence.authorisation.updated"
	EventAuthorisationDeleted       = "absence.authorisation.deleted"
	EventAuthorisationStatusChanged = "absence.authorisation.status-changed"
	EventOccurrenceCreated          = "absence.occurrence.created"
	EventOccurrenceUpdated          = "absence.occurrence.updated"
	EventOccurrenceDeleted          = "absence.occurrence.deleted"
	EventOccurrenceStatusChanged    = "absence.occurrence.status-changed"
	EventMovementCreated            = "absence.movement.created"
	EventMovementUpdated            = "absence.movement.updated"
	EventMovementDeleted            = "absence.movement.deleted"
	EventMovementRelocated          = "absence.movement.relocated"
	EventSubjectMerged              = "absence.subject.merged"
)

// Outbox publish statuses for DomainEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// DomainEventRecord is the transactional outbox row for one domain event.
// It is written inside the mutating transaction; publication to Pub/Sub
// happens after commit via the outbox dispatcher. Migration backfill writes
// rows already marked SENT so historical events never reach the bus.
type DomainEventRecord struct {
	ID            int       `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	SubjectId     string    `gorm:"size:16;not null;index" json:"subject_id"`
	OccurredAt    time.Time `gorm:"index;not null" json:"occurred_at"`
	ReferenceId   int       `json:"reference_id"`
	ReferenceType string    `gorm:"size:40" json:"reference_type"`
	EventType     string    `gorm:"size:80;not null;index" json:"event_type"`
	Payload       []byte    `gorm:"type:blob" json:"payload"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AppendDomainEvent writes one outbox row inside the caller's transaction.
// prePublished marks the row SENT at insert (migration backfill), so the
// dispatcher skips it.
func AppendDomainEvent(ctx context.Context, tx *gorm.DB, subjectId string, eventType string, referenceId int, referenceType string, payload interface{}, prePublished bool) (*DomainEventRecord, error) {
	var payloadBytes []byte
	var err error
	if payload != nil {
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	record := DomainEventRecord{
		SubjectId:     subjectId,
		OccurredAt:    time.Now().UTC(),
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		EventType:     eventType,
		Payload:       payloadBytes,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	if prePublished {
		now := time.Now().UTC()
		record.PublishStatus = OutboxPublishStatusSent
		record.PublishedAt = &now
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToPubSubMessage(record DomainEventRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		SubjectId:     record.SubjectId,
		OccurredAt:    record.OccurredAt,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		EventType:     record.EventType,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}
