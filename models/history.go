package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/utils"
	"gorm.io/gorm"
)

// History is one append-only audit fact: who changed what, with a
// before/after field snapshot. Facts are written inside the same
// transaction as the mutation they describe; a no-op update writes none.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	SubjectId     string    `gorm:"size:16;index;not null" json:"subject_id"`
	ActionType    string    `gorm:"size:10;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:255;index" json:"reference_type"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	Source        string    `gorm:"size:20" json:"source"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB,
	subjectId string,
	actionType string,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) (err error) {

	var history History

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	// Reconciliation runs without a signed-in user; those facts are
	// attributed to the system actor (user id 0) with the context user name.
	ctx := tx.Statement.Context
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok {
		userName = "System"
	}
	source, _ := utils.GetSourceFromContext(ctx)

	history.SubjectId = subjectId
	history.ActionType = actionType
	history.Before = string(b)
	history.After = string(a)
	history.Description = description
	history.ReferenceID = referenceId
	history.ReferenceType = referenceType
	history.UserId = userId
	history.UserName = userName
	history.Source = source

	err = tx.Create(&history).Error
	return err
}

func SaveHistoryCreate(tx *gorm.DB, subjectId string, referenceId int, referenceType string, obj interface{}, description string) error {
	return createHistory(tx, subjectId, "CREATE", referenceId, referenceType, nil, obj, description)
}

func SaveHistoryUpdate(tx *gorm.DB, subjectId string, referenceId int, referenceType string, before interface{}, after interface{}, description string) error {
	return createHistory(tx, subjectId, "UPDATE", referenceId, referenceType, before, after, description)
}

func SaveHistoryDelete(tx *gorm.DB, subjectId string, referenceId int, referenceType string, obj interface{}, description string) error {
	return createHistory(tx, subjectId, "DELETE", referenceId, referenceType, obj, nil, description)
}

func GetHistories(ctx context.Context, subjectId string, referenceId *int, referenceType *string) ([]*History, error) {
	db := config.GetDB()
	var results []*History

	dbCtx := db.WithContext(ctx).Where("subject_id = ?", subjectId)
	if referenceId != nil && *referenceId > 0 {
		dbCtx = dbCtx.Where("reference_id = ?", referenceId)
	}
	if referenceType != nil && len(*referenceType) > 0 {
		dbCtx = dbCtx.Where("reference_type = ?", referenceType)
	}
	err := dbCtx.Order("created_at DESC, id DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
