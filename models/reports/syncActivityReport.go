package reports

import (
	"context"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/utils"
)

type SyncActivityRow struct {
	TriggeredBy   string  `json:"TriggeredBy"`
	Status        string  `json:"Status"`
	RunCount      int     `json:"RunCount"`
	NoOpCount     int     `json:"NoOpCount"`
	RecordsSynced int     `json:"RecordsSynced"`
	ErrorCount    int     `json:"ErrorCount"`
	AvgDurationMs float64 `json:"AvgDurationMs"`
}

// GetSyncActivityReport aggregates sync runs per trigger and outcome over a
// time range. Runs are not establishment-scoped, so no prison filter applies.
func GetSyncActivityReport(ctx context.Context, from time.Time, to time.Time) ([]*SyncActivityRow, error) {
	started := time.Now()

	sql := `
SELECT
    triggered_by,
    status,
    COUNT(id) AS run_count,
    SUM(CASE WHEN no_op THEN 1 ELSE 0 END) AS no_op_count,
    SUM(records_synced) AS records_synced,
    SUM(error_count) AS error_count,
    AVG(duration_ms) AS avg_duration_ms
FROM
    sync_runs
WHERE
    started_at BETWEEN @fromDate AND @toDate
GROUP BY triggered_by , status
ORDER BY triggered_by , status;
`

	if to.Before(from) {
		return nil, utils.ErrValidationFailure("from date must not be after to date")
	}

	var records []*SyncActivityRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"fromDate": from,
		"toDate":   to,
	}).Scan(&records).Error; err != nil {
		return nil, err
	}

	logSlowReport(ctx, "syncActivity", started, map[string]any{"rows": len(records)})

	return records, nil
}
