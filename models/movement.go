package models

import (
	"context"
	"errors"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/utils"
	"gorm.io/gorm"
)

// Movement is a recorded physical departure (OUT) or return (IN). A nil
// OccurrenceId means the movement is unscheduled: recorded against the
// subject without a planned occurrence. A movement may move between
// scheduled and unscheduled across reconciliation runs; identity (id or
// legacy id) survives the re-parenting.
type Movement struct {
	ID           int               `gorm:"primary_key" json:"id"`
	SubjectId    string            `gorm:"size:16;not null;index" json:"subject_id"`
	OccurrenceId *int              `gorm:"index" json:"occurrence_id"`
	Direction    MovementDirection `gorm:"size:4;not null" json:"direction"`
	OccurredAt   time.Time         `gorm:"not null;index" json:"occurred_at"`

	ReasonCode      string `gorm:"size:40" json:"reason_code"`
	Accompaniment   string `gorm:"size:40" json:"accompaniment"`
	Comments        string `gorm:"type:text" json:"comments"`
	Location        string `gorm:"size:255" json:"location"`
	RecordingPrison string `gorm:"column:recording_prison;size:8" json:"recording_prison"`
	LegacyId        *int64 `gorm:"uniqueIndex" json:"legacy_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m Movement) GetId() int {
	return m.ID
}

// IsScheduled reports whether the movement is attached to an occurrence.
func (m Movement) IsScheduled() bool {
	return m.OccurrenceId != nil
}

func GetMovement(ctx context.Context, id int) (*Movement, error) {
	db := config.GetDB()
	var result Movement
	err := db.WithContext(ctx).First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrNotFound("movement %d not found", id)
		}
		return nil, err
	}
	return &result, nil
}
