package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/apperr"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/types"
)

type TestRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.TestRun) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TestRun, error)
	// ListBySubmission returns the submission's runs in merge order:
	// ascending start_time, ties broken by ascending id.
	ListBySubmission(ctx context.Context, tx *gorm.DB, submissionID uuid.UUID) ([]*types.TestRun, error)
	// FindDuplicate looks for an already-ingested run with the same device
	// fingerprint and start time.
	FindDuplicate(ctx context.Context, tx *gorm.DB, deviceFingerprint string, startTime time.Time) (*types.TestRun, error)
	LinkToSubmission(ctx context.Context, tx *gorm.DB, runID, submissionID uuid.UUID) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error
	DeleteBySubmission(ctx context.Context, tx *gorm.DB, submissionID uuid.UUID) error
}

type testRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTestRunRepo(db *gorm.DB, baseLog *logger.Logger) TestRunRepo {
	return &testRunRepo{
		db:  db,
		log: baseLog.With("repo", "TestRunRepo"),
	}
}

func (r *testRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.TestRun) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("%w: create test run: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *testRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TestRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.TestRun
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: test run %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get test run: %v", apperr.ErrStoreFailure, err)
	}
	return &run, nil
}

func (r *testRunRepo) ListBySubmission(ctx context.Context, tx *gorm.DB, submissionID uuid.UUID) ([]*types.TestRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TestRun
	if err := transaction.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("start_time ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: list runs for submission: %v", apperr.ErrStoreFailure, err)
	}
	return out, nil
}

func (r *testRunRepo) FindDuplicate(ctx context.Context, tx *gorm.DB, deviceFingerprint string, startTime time.Time) (*types.TestRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.TestRun
	err := transaction.WithContext(ctx).
		Where("device_fingerprint = ? AND start_time = ?", deviceFingerprint, startTime).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find duplicate run: %v", apperr.ErrStoreFailure, err)
	}
	return &run, nil
}

func (r *testRunRepo) LinkToSubmission(ctx context.Context, tx *gorm.DB, runID, submissionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Model(&types.TestRun{}).
		Where("id = ?", runID).
		Update("submission_id", submissionID).Error; err != nil {
		return fmt.Errorf("%w: link run to submission: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *testRunRepo) DeleteBySubmission(ctx context.Context, tx *gorm.DB, submissionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Delete(&types.TestRun{}).Error; err != nil {
		return fmt.Errorf("%w: delete runs for submission: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *testRunRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Model(&types.TestRun{}).
		Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("%w: update run status: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}
