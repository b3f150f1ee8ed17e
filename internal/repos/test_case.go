package repos

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/apperr"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/types"
)

type TestCaseRepo interface {
	BulkCreate(ctx context.Context, tx *gorm.DB, cases []*types.TestCase) error
	ListByRunIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) ([]*types.TestCase, error)
	// FailedKeysForSubmission returns the distinct key set of every test
	// case that has ever failed in the submission's runs; C7 uses it to
	// decide which incoming passes become explicit-recovery records.
	FailedKeysForSubmission(ctx context.Context, tx *gorm.DB, submissionID uuid.UUID) (map[types.TestCaseKey]struct{}, error)
	// DeleteByRunIDs removes the runs' cases together with their cluster
	// links; callers follow up with FailureClusterRepo.GCOrphans.
	DeleteByRunIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) error
}

type testCaseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTestCaseRepo(db *gorm.DB, baseLog *logger.Logger) TestCaseRepo {
	return &testCaseRepo{
		db:  db,
		log: baseLog.With("repo", "TestCaseRepo"),
	}
}

func (r *testCaseRepo) BulkCreate(ctx context.Context, tx *gorm.DB, cases []*types.TestCase) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(cases) == 0 {
		return nil
	}
	if err := transaction.WithContext(ctx).CreateInBatches(&cases, 500).Error; err != nil {
		return fmt.Errorf("%w: bulk create test cases: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *testCaseRepo) ListByRunIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) ([]*types.TestCase, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TestCase
	if len(runIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("test_run_id IN ?", runIDs).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: list test cases for runs: %v", apperr.ErrStoreFailure, err)
	}
	return out, nil
}

func (r *testCaseRepo) DeleteByRunIDs(ctx context.Context, tx *gorm.DB, runIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(runIDs) == 0 {
		return nil
	}
	err := transaction.WithContext(ctx).
		Where("test_case_id IN (?)", transaction.Model(&types.TestCase{}).
			Select("id").Where("test_run_id IN ?", runIDs)).
		Delete(&types.FailureAnalysis{}).Error
	if err != nil {
		return fmt.Errorf("%w: delete failure analyses for runs: %v", apperr.ErrStoreFailure, err)
	}
	if err := transaction.WithContext(ctx).
		Where("test_run_id IN ?", runIDs).
		Delete(&types.TestCase{}).Error; err != nil {
		return fmt.Errorf("%w: delete test cases for runs: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *testCaseRepo) FailedKeysForSubmission(ctx context.Context, tx *gorm.DB, submissionID uuid.UUID) (map[types.TestCaseKey]struct{}, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []types.TestCaseKey
	if err := transaction.WithContext(ctx).
		Model(&types.TestCase{}).
		Select("DISTINCT test_case.module_name, test_case.module_abi, test_case.class_name, test_case.method_name").
		Joins("JOIN test_run ON test_run.id = test_case.test_run_id").
		Where("test_run.submission_id = ? AND test_case.status = ?", submissionID, types.TestCaseStatusFail).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: failed keys for submission: %v", apperr.ErrStoreFailure, err)
	}
	keys := make(map[types.TestCaseKey]struct{}, len(rows))
	for _, k := range rows {
		keys[k] = struct{}{}
	}
	return keys, nil
}
