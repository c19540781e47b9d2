package models

import (
	"context"
	"errors"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Authorisation is a granted permission for a temporary absence. It owns
// zero or more Occurrences. LegacyId, where present, is the durable
// cross-system identity key; ID is the intra-system key.
type Authorisation struct {
	ID        int                 `gorm:"primary_key" json:"id"`
	SubjectId string              `gorm:"size:16;not null;index" json:"subject_id"`
	PrisonId  string              `gorm:"size:8;not null;index" json:"prison_id"`
	Status    AuthorisationStatus `gorm:"size:20;not null;index" json:"status"`

	TypeCode           string `gorm:"size:40" json:"type_code"`
	SubTypeCode        string `gorm:"size:40" json:"sub_type_code"`
	ReasonCategoryCode string `gorm:"size:40" json:"reason_category_code"`
	ReasonCode         string `gorm:"size:40" json:"reason_code"`
	ReasonPathJSON     string `gorm:"type:text" json:"reason_path"`

	Accompaniment string     `gorm:"size:40" json:"accompaniment"`
	Transport     string     `gorm:"size:40" json:"transport"`
	RepeatFlag    bool       `gorm:"not null;default:false" json:"repeat_flag"`
	FromDate      time.Time  `gorm:"type:date;not null" json:"from_date"`
	ToDate        time.Time  `gorm:"type:date;not null" json:"to_date"`
	Comments      string     `gorm:"type:text" json:"comments"`
	LocationsJSON string     `gorm:"type:text" json:"locations"`
	LegacyId      *int64     `gorm:"uniqueIndex" json:"legacy_id"`
	ApprovedAt    *time.Time `json:"approved_at"`

	Occurrences []Occurrence `gorm:"foreignKey:AuthorisationId" json:"occurrences,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a Authorisation) GetId() int {
	return a.ID
}

// GetAuthorisation loads one authorisation with its occurrences and their
// movements.
func GetAuthorisation(ctx context.Context, id int) (*Authorisation, error) {
	db := config.GetDB()
	var result Authorisation
	err := db.WithContext(ctx).
		Preload("Occurrences", func(db *gorm.DB) *gorm.DB { return db.Order("release_at") }).
		Preload("Occurrences.Movements", func(db *gorm.DB) *gorm.DB { return db.Order("occurred_at") }).
		First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrNotFound("authorisation %d not found", id)
		}
		return nil, err
	}
	return &result, nil
}

// GetAuthorisationForUpdate loads one authorisation inside the caller's
// transaction with a row lock, so the status read and the transition write
// see the same row.
func GetAuthorisationForUpdate(ctx context.Context, tx *gorm.DB, id int) (*Authorisation, error) {
	var result Authorisation
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Occurrences", func(db *gorm.DB) *gorm.DB { return db.Order("release_at") }).
		Preload("Occurrences.Movements", func(db *gorm.DB) *gorm.DB { return db.Order("occurred_at") }).
		First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrNotFound("authorisation %d not found", id)
		}
		return nil, err
	}
	return &result, nil
}

// GetSubjectHierarchy loads everything reconciliation works on for one
// subject: all authorisations with occurrences and movements, plus the
// subject's unscheduled movements. forUpdate takes row locks so the status
// sweep cannot interleave with a reconciliation of the same subject.
func GetSubjectHierarchy(ctx context.Context, tx *gorm.DB, subjectId string, forUpdate bool) ([]Authorisation, []Movement, error) {
	q := tx.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var auths []Authorisation
	if err := q.
		Preload("Occurrences", func(db *gorm.DB) *gorm.DB { return db.Order("release_at") }).
		Preload("Occurrences.Movements", func(db *gorm.DB) *gorm.DB { return db.Order("occurred_at") }).
		Where("subject_id = ?", subjectId).
		Order("from_date, id").
		Find(&auths).Error; err != nil {
		return nil, nil, err
	}

	var unscheduled []Movement
	if err := q.
		Where("subject_id = ? AND occurrence_id IS NULL", subjectId).
		Order("occurred_at, id").
		Find(&unscheduled).Error; err != nil {
		return nil, nil, err
	}
	return auths, unscheduled, nil
}
