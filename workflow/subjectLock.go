package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireSubjectLock serializes mutation per subject across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the mutating transaction.
func AcquireSubjectLock(tx *gorm.DB, subjectId string) error {
	lockName := fmt.Sprintf("absence:%s", subjectId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire subject lock for subject_id=%s", subjectId)
	}
	return nil
}

func ReleaseSubjectLock(tx *gorm.DB, subjectId string) {
	lockName := fmt.Sprintf("absence:%s", subjectId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
