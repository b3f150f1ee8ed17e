package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/triagehub/compat-backend/internal/apperr"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/types"
)

type AnalysisJobRepo interface {
	Enqueue(ctx context.Context, tx *gorm.DB, job *types.AnalysisJob) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AnalysisJob, error)
	// ClaimNextRunnable atomically picks the oldest runnable job and moves
	// it to running. Returns nil when nothing is claimable.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.AnalysisJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type analysisJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisJobRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisJobRepo {
	return &analysisJobRepo{
		db:  db,
		log: baseLog.With("repo", "AnalysisJobRepo"),
	}
}

func (r *analysisJobRepo) Enqueue(ctx context.Context, tx *gorm.DB, job *types.AnalysisJob) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("%w: enqueue analysis job: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *analysisJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.AnalysisJob
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: analysis job %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get analysis job: %v", apperr.ErrStoreFailure, err)
	}
	return &job, nil
}

func (r *analysisJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	var claimed *types.AnalysisJob
	err := transaction.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		var job types.AnalysisJob
		err := inner.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("attempts < ?", maxAttempts).
			Where(
				inner.Session(&gorm.Session{NewDB: true}).
					Where("status = ? AND run_after <= ?", types.AnalysisJobStatusQueued, now).
					Or("status = ? AND heartbeat_at < ?", types.AnalysisJobStatusRunning, now.Add(-staleRunning)),
			).
			Order("run_after ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":       types.AnalysisJobStatusRunning,
			"attempts":     gorm.Expr("attempts + 1"),
			"started_at":   now,
			"heartbeat_at": now,
			"run_after":    now.Add(retryDelay),
		}
		if err := inner.Model(&types.AnalysisJob{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
			return err
		}
		job.Status = types.AnalysisJobStatusRunning
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: claim analysis job: %v", apperr.ErrStoreFailure, err)
	}
	return claimed, nil
}

func (r *analysisJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Model(&types.AnalysisJob{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("%w: update analysis job: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *analysisJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.UpdateFields(ctx, tx, id, map[string]interface{}{"heartbeat_at": time.Now().UTC()})
}
