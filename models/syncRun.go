package models

import (
	"context"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/utils"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredMigration = "migration"
	SyncTriggeredResync    = "resync"
	SyncTriggeredSingle    = "single"
	SyncTriggeredMove      = "move"
	SyncTriggeredPush      = "push"
)

const (
	SyncModeFullReplace = "FULL_REPLACE"
	SyncModeMerge       = "MERGE"
)

// SyncRun records one reconciliation attempt against a subject's hierarchy.
// SnapshotJSON keeps the inbound payload for replay and dispute resolution.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	SubjectId     string     `gorm:"size:16;index;not null" json:"subject_id"`
	PrisonId      string     `gorm:"size:8;index" json:"prison_id"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	Mode          string     `gorm:"size:20" json:"mode"`
	SnapshotJSON  []byte     `gorm:"type:json" json:"snapshot"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	NoOp          bool       `gorm:"default:false" json:"no_op"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncRunError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	SubjectId   string    `gorm:"size:16;index" json:"subject_id"`
	EntityType  string    `gorm:"size:40" json:"entity_type"`
	LegacyId    *int64    `json:"legacy_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// StartSyncRun inserts a RUNNING run row outside the reconciliation
// transaction so a failed run still leaves a trace.
func StartSyncRun(ctx context.Context, subjectId string, triggeredBy string, mode string, snapshot []byte) (*SyncRun, error) {
	db := config.GetDB()
	now := time.Now().UTC()

	run := SyncRun{
		SubjectId:    subjectId,
		Status:       SyncRunStatusRunning,
		TriggeredBy:  triggeredBy,
		Mode:         mode,
		SnapshotJSON: snapshot,
		StartedAt:    &now,
	}
	if prisonId, ok := utils.GetPrisonIdFromContext(ctx); ok {
		run.PrisonId = prisonId
	}
	if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		run.CorrelationId = correlationId
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// FinishSyncRun closes the run with the terminal status and stats.
func FinishSyncRun(ctx context.Context, run *SyncRun, status string, recordsSynced int, noOp bool, stats []byte, runErr error) error {
	db := config.GetDB()
	now := time.Now().UTC()

	run.Status = status
	run.RecordsSynced = recordsSynced
	run.NoOp = noOp
	run.StatsJSON = stats
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	if err := db.WithContext(ctx).Save(run).Error; err != nil {
		return err
	}

	if runErr != nil {
		run.ErrorCount++
		kind := utils.KindOf(runErr)
		rec := SyncRunError{
			SyncRunId: run.ID,
			SubjectId: run.SubjectId,
			ErrorCode: string(kind),
			Message:   runErr.Error(),
			Retryable: kind == "",
		}
		if err := db.WithContext(ctx).Create(&rec).Error; err != nil {
			return err
		}
		if err := db.WithContext(ctx).Model(&SyncRun{}).Where("id = ?", run.ID).
			Update("error_count", run.ErrorCount).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetSyncRuns lists recent runs for one subject, newest first.
func GetSyncRuns(ctx context.Context, subjectId string, limit int) ([]SyncRun, error) {
	db := config.GetDB()
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var runs []SyncRun
	err := db.WithContext(ctx).
		Where("subject_id = ?", subjectId).
		Order("id desc").Limit(limit).
		Find(&runs).Error
	return runs, err
}

// GetSyncRunErrors lists the error rows of one run.
func GetSyncRunErrors(ctx context.Context, syncRunId uint) ([]SyncRunError, error) {
	db := config.GetDB()
	var errs []SyncRunError
	err := db.WithContext(ctx).
		Where("sync_run_id = ?", syncRunId).
		Order("id asc").
		Find(&errs).Error
	return errs, err
}
