package models

import (
	"context"
	"errors"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/utils"
	"gorm.io/gorm"
)

// Occurrence is one concrete scheduled instance of an absence under an
// authorisation. For repeat series, its categorisation may diverge from the
// parent authorisation's, so it keeps its own copy.
type Occurrence struct {
	ID              int              `gorm:"primary_key" json:"id"`
	AuthorisationId int              `gorm:"not null;index" json:"authorisation_id"`
	Status          OccurrenceStatus `gorm:"size:20;not null;index" json:"status"`

	TypeCode           string `gorm:"size:40" json:"type_code"`
	SubTypeCode        string `gorm:"size:40" json:"sub_type_code"`
	ReasonCategoryCode string `gorm:"size:40" json:"reason_category_code"`
	ReasonCode         string `gorm:"size:40" json:"reason_code"`
	ReasonPathJSON     string `gorm:"type:text" json:"reason_path"`

	ReleaseAt    time.Time `gorm:"not null;index" json:"release_at"`
	ReturnBy     time.Time `gorm:"not null;index" json:"return_by"`
	Location     string    `gorm:"size:255" json:"location"`
	ContactName  string    `gorm:"size:100" json:"contact_name"`
	ContactPhone string    `gorm:"size:40" json:"contact_phone"`
	Comments     string    `gorm:"type:text" json:"comments"`
	LegacyId     *int64    `gorm:"uniqueIndex" json:"legacy_id"`

	Movements []Movement `gorm:"foreignKey:OccurrenceId" json:"movements,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o Occurrence) GetId() int {
	return o.ID
}

// Window returns the occurrence's time window.
func (o Occurrence) Window() (time.Time, time.Time) {
	return o.ReleaseAt, o.ReturnBy
}

func GetOccurrence(ctx context.Context, id int) (*Occurrence, error) {
	db := config.GetDB()
	var result Occurrence
	err := db.WithContext(ctx).
		Preload("Movements", func(db *gorm.DB) *gorm.DB { return db.Order("occurred_at") }).
		First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrNotFound("occurrence %d not found", id)
		}
		return nil, err
	}
	return &result, nil
}

// ElapsedOccurrences lists occurrences whose window has ended but whose
// stored status still claims they are upcoming or in progress. The status
// sweep feeds on this.
func ElapsedOccurrences(ctx context.Context, tx *gorm.DB, before time.Time, limit int) ([]Occurrence, error) {
	var rows []Occurrence
	err := tx.WithContext(ctx).
		Preload("Movements").
		Where("return_by < ? AND status IN ?", before,
			[]OccurrenceStatus{OccurrenceStatusScheduled, OccurrenceStatusInProgress}).
		Order("return_by").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
