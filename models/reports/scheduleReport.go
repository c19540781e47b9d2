package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/utils"
)

type ScheduleReportRow struct {
	SubjectId           string     `json:"SubjectId"`
	AuthorisationId     int        `json:"AuthorisationId"`
	AuthorisationStatus string     `json:"AuthorisationStatus"`
	OccurrenceId        int        `json:"OccurrenceId"`
	OccurrenceStatus    string     `json:"OccurrenceStatus"`
	TypeCode            string     `json:"TypeCode"`
	SubTypeCode         *string    `json:"SubTypeCode,omitempty"`
	ReasonCode          *string    `json:"ReasonCode,omitempty"`
	ReleaseAt           time.Time  `json:"ReleaseAt"`
	ReturnBy            time.Time  `json:"ReturnBy"`
	Location            *string    `json:"Location,omitempty"`
	Accompaniment       *string    `json:"Accompaniment,omitempty"`
	LastMovementAt      *time.Time `json:"LastMovementAt,omitempty"`
}

// GetScheduleReport lists occurrences whose window overlaps the requested
// range for the caller's establishment, soonest release first.
func GetScheduleReport(ctx context.Context, fromDate time.Time, toDate time.Time, typeCode string) ([]*ScheduleReportRow, error) {
	started := time.Now()

	sqlT := `
SELECT
    authorisations.subject_id,
    authorisations.id AS authorisation_id,
    authorisations.status AS authorisation_status,
    authorisations.accompaniment,
    occurrences.id AS occurrence_id,
    occurrences.status AS occurrence_status,
    occurrences.type_code,
    occurrences.sub_type_code,
    occurrences.reason_code,
    occurrences.release_at,
    occurrences.return_by,
    occurrences.location,
    lm.last_movement_at
FROM
    occurrences
        INNER JOIN
    authorisations ON authorisations.id = occurrences.authorisation_id
        LEFT JOIN
    (SELECT
        occurrence_id, MAX(occurred_at) AS last_movement_at
    FROM
        movements
    WHERE
        occurrence_id IS NOT NULL
    GROUP BY occurrence_id) AS lm ON lm.occurrence_id = occurrences.id
WHERE
    authorisations.prison_id = @prisonId
        AND occurrences.status IN ('SCHEDULED' , 'IN_PROGRESS', 'OVERDUE')
        AND occurrences.release_at <= @toDate
        AND occurrences.return_by >= @fromDate
	{{- if .typeCode }} AND occurrences.type_code = @typeCode {{- end }}
ORDER BY occurrences.release_at;
`

	prisonId, ok := utils.GetPrisonIdFromContext(ctx)
	if !ok || prisonId == "" {
		return nil, errors.New("prison id is required")
	}
	if toDate.Before(fromDate) {
		return nil, utils.ErrValidationFailure("from date must not be after to date")
	}

	cacheKey := fmt.Sprintf("report:schedule:%s:%s:%s:%s",
		prisonId, fromDate.Format("2006-01-02"), toDate.Format("2006-01-02"), typeCode)
	if reportCacheEnabled() {
		var cached []*ScheduleReportRow
		if hit, err := cacheGet(cacheKey, &cached); err == nil && hit {
			return cached, nil
		}
	}

	// generating sql from template
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{
		"typeCode": typeCode,
	})
	if err != nil {
		return nil, err
	}

	var records []*ScheduleReportRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"prisonId": prisonId,
		"fromDate": fromDate,
		"toDate":   toDate,
		"typeCode": typeCode,
	}).Scan(&records).Error; err != nil {
		return nil, err
	}

	if reportCacheEnabled() {
		_ = cacheSet(cacheKey, records, reportCacheTTL())
	}
	logSlowReport(ctx, "schedule", started, map[string]any{"rows": len(records)})

	return records, nil
}

func (r ScheduleReportRow) GetCellValues() []interface{} {
	return []interface{}{
		r.SubjectId,
		r.OccurrenceStatus,
		r.TypeCode,
		utils.DereferencePtr(r.SubTypeCode, ""),
		utils.DereferencePtr(r.ReasonCode, ""),
		r.ReleaseAt.Format(time.RFC3339),
		r.ReturnBy.Format(time.RFC3339),
		utils.DereferencePtr(r.Location, ""),
		utils.DereferencePtr(r.Accompaniment, ""),
	}
}
