package workflow

import (
	"context"
	"time"

	"github.com/custodia-platform/absences_backend/config"
	"github.com/custodia-platform/absences_backend/models"
	"github.com/custodia-platform/absences_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatusSweeper is the only time-triggered process in the service. It
// recomputes OVERDUE/EXPIRED for occurrences whose window has elapsed since
// the last recompute, and expires PENDING authorisations whose end date has
// passed without approval. Safe to run alongside reconciliation of other
// subjects; same-subject interleaving is kept out by the per-subject locks.
type StatusSweeper struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	Interval  time.Duration
	BatchSize int
}

func NewStatusSweeper(db *gorm.DB, logger *logrus.Logger) *StatusSweeper {
	return &StatusSweeper{
		DB:        db,
		Logger:    logger,
		Interval:  time.Minute,
		BatchSize: 200,
	}
}

func (s *StatusSweeper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Interval):
		}
	}
}

// SweepOnce runs a single pass. Exposed for the sweep CLI tool.
func (s *StatusSweeper) SweepOnce(ctx context.Context) {
	ctx = utils.SetUserNameInContext(ctx, "Status Sweep")
	ctx = utils.SetSourceInContext(ctx, models.SourceSweep)
	now := time.Now().UTC()

	s.sweepElapsedOccurrences(ctx, now)
	s.sweepUnapprovedAuthorisations(ctx, now)
}

func (s *StatusSweeper) sweepElapsedOccurrences(ctx context.Context, now time.Time) {
	elapsed, err := models.ElapsedOccurrences(ctx, s.DB, now, s.BatchSize)
	if err != nil {
		config.LogError(s.Logger, "statusSweep.go", "sweepElapsedOccurrences", "ElapsedOccurrences", nil, err)
		return
	}
	if len(elapsed) == 0 {
		return
	}

	// Group by owning authorisation so each subject is processed once per
	// pass, under its own locks.
	byAuthorisation := map[int][]models.Occurrence{}
	for _, occ := range elapsed {
		byAuthorisation[occ.AuthorisationId] = append(byAuthorisation[occ.AuthorisationId], occ)
	}

	for authorisationId := range byAuthorisation {
		if err := s.recomputeAuthorisation(ctx, authorisationId, now); err != nil {
			config.LogError(s.Logger, "statusSweep.go", "sweepElapsedOccurrences", "recomputeAuthorisation", authorisationId, err)
		}
	}
}

func (s *StatusSweeper) recomputeAuthorisation(ctx context.Context, authorisationId int, now time.Time) error {
	auth, err := models.GetAuthorisation(ctx, authorisationId)
	if err != nil {
		return err
	}

	lock, err := utils.SubjectRedisLock(ctx, auth.SubjectId, "StatusSweep", "statusSweep.go", "recomputeAuthorisation")
	if err != nil {
		// Another instance holds the subject; next pass picks it up.
		return nil
	}
	defer func() { _ = lock.Release(ctx) }()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireSubjectLock(tx, auth.SubjectId); err != nil {
			return err
		}
		defer ReleaseSubjectLock(tx, auth.SubjectId)

		current, err := models.GetAuthorisationForUpdate(ctx, tx, auth.ID)
		if err != nil {
			return err
		}
		return RecomputeOccurrenceStatuses(ctx, tx, current, now)
	})
}

func (s *StatusSweeper) sweepUnapprovedAuthorisations(ctx context.Context, now time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var pending []models.Authorisation
	err := s.DB.WithContext(ctx).
		Where("status = ? AND to_date < ?", models.AuthorisationStatusPending, today).
		Limit(s.BatchSize).
		Find(&pending).Error
	if err != nil {
		config.LogError(s.Logger, "statusSweep.go", "sweepUnapprovedAuthorisations", "query pending", nil, err)
		return
	}

	for i := range pending {
		auth := pending[i]
		lock, err := utils.SubjectRedisLock(ctx, auth.SubjectId, "StatusSweep", "statusSweep.go", "sweepUnapprovedAuthorisations")
		if err != nil {
			continue
		}

		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := AcquireSubjectLock(tx, auth.SubjectId); err != nil {
				return err
			}
			defer ReleaseSubjectLock(tx, auth.SubjectId)

			// The candidate list was read outside the lock; re-read the row
			// under it and skip anything a concurrent action already settled.
			current, err := models.GetAuthorisationForUpdate(ctx, tx, auth.ID)
			if err != nil {
				return err
			}
			if current.Status != models.AuthorisationStatusPending {
				return nil
			}
			_, err = applyAuthorisationActionTx(ctx, tx, current, ActionExpire, now)
			return err
		})
		_ = lock.Release(ctx)
		if err != nil {
			config.LogError(s.Logger, "statusSweep.go", "sweepUnapprovedAuthorisations", "expire", auth.ID, err)
		}
	}
}
