package models

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

// IdempotencyKey provides durable, DB-backed idempotency for push handlers.
// Unique constraint: (subject_id, handler_name, message_id).
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	SubjectId   string            `gorm:"size:16;not null;index:uniq_idem,unique" json:"subject_id"`
	HandlerName string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"handler_name"`
	MessageId   string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"message_id"`
	Status      IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	LastError   *string           `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// ClaimIdempotencyKey inserts a STARTED row, returning false when the
// message was already processed (SUCCEEDED) or is mid-flight. A FAILED
// row is reclaimed so a redelivery can retry.
func ClaimIdempotencyKey(ctx context.Context, tx *gorm.DB, subjectId, handlerName, messageId string) (bool, error) {
	key := IdempotencyKey{
		SubjectId:   subjectId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      IdempotencyStatusStarted,
	}
	err := tx.WithContext(ctx).Create(&key).Error
	if err == nil {
		return true, nil
	}
	if !isDuplicateKeyErr(err) {
		return false, err
	}

	// Duplicate: inspect the existing row.
	var existing IdempotencyKey
	err = tx.WithContext(ctx).
		Where("subject_id = ? AND handler_name = ? AND message_id = ?", subjectId, handlerName, messageId).
		First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if existing.Status != IdempotencyStatusFailed {
		return false, nil
	}

	res := tx.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("id = ? AND status = ?", existing.ID, IdempotencyStatusFailed).
		Update("status", IdempotencyStatusStarted)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func FinishIdempotencyKey(ctx context.Context, tx *gorm.DB, subjectId, handlerName, messageId string, handlerErr error) error {
	updates := map[string]interface{}{"status": IdempotencyStatusSucceeded, "last_error": nil}
	if handlerErr != nil {
		msg := handlerErr.Error()
		updates["status"] = IdempotencyStatusFailed
		updates["last_error"] = &msg
	}
	return tx.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("subject_id = ? AND handler_name = ? AND message_id = ?", subjectId, handlerName, messageId).
		Updates(updates).Error
}
