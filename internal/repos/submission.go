package repos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/apperr"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/types"
)

type SubmissionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, sub *types.Submission) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Submission, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Submission, error)
	// ListWithStats adds per-submission run and failure counts for the
	// dashboard list view.
	ListWithStats(ctx context.Context, tx *gorm.DB) ([]*SubmissionStats, error)
	// FindByFingerprint returns the most-recently-updated submission with
	// the exact target fingerprint, or nil when none exists.
	FindByFingerprint(ctx context.Context, tx *gorm.DB, fp string) (*types.Submission, error)
	// FindByFingerprintTail returns up to limit submissions whose target
	// fingerprint ends with tail, most-recently-updated first. Used for
	// system-replace matching, where the device prefix is generic but the
	// release/build tail is shared.
	FindByFingerprintTail(ctx context.Context, tx *gorm.DB, tail string, limit int) ([]*types.Submission, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type submissionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubmissionRepo(db *gorm.DB, baseLog *logger.Logger) SubmissionRepo {
	return &submissionRepo{
		db:  db,
		log: baseLog.With("repo", "SubmissionRepo"),
	}
}

func (r *submissionRepo) Create(ctx context.Context, tx *gorm.DB, sub *types.Submission) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("%w: create submission: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *submissionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Submission, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var sub types.Submission
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: submission %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get submission: %v", apperr.ErrStoreFailure, err)
	}
	return &sub, nil
}

func (r *submissionRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Submission, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Submission
	if err := transaction.WithContext(ctx).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: list submissions: %v", apperr.ErrStoreFailure, err)
	}
	return out, nil
}

// SubmissionStats is one row of the list view.
type SubmissionStats struct {
	types.Submission
	RunCount     int `json:"run_count"`
	FailureCount int `json:"failure_count"`
}

func (r *submissionRepo) ListWithStats(ctx context.Context, tx *gorm.DB) ([]*SubmissionStats, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*SubmissionStats
	err := transaction.WithContext(ctx).
		Model(&types.Submission{}).
		Select(`submission.*,
			COUNT(DISTINCT test_run.id) AS run_count,
			COUNT(DISTINCT CASE WHEN test_case.status = 'fail' THEN test_case.id END) AS failure_count`).
		Joins("LEFT JOIN test_run ON test_run.submission_id = submission.id").
		Joins("LEFT JOIN test_case ON test_case.test_run_id = test_run.id").
		Group("submission.id").
		Order("submission.updated_at DESC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list submissions with stats: %v", apperr.ErrStoreFailure, err)
	}
	return out, nil
}

func (r *submissionRepo) FindByFingerprint(ctx context.Context, tx *gorm.DB, fp string) (*types.Submission, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var sub types.Submission
	err := transaction.WithContext(ctx).
		Where("target_fingerprint = ?", fp).
		Order("updated_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find submission by fingerprint: %v", apperr.ErrStoreFailure, err)
	}
	return &sub, nil
}

func (r *submissionRepo) FindByFingerprintTail(ctx context.Context, tx *gorm.DB, tail string, limit int) ([]*types.Submission, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Submission
	if err := transaction.WithContext(ctx).
		Where("target_fingerprint LIKE ? ESCAPE '\\'", "%"+escapeLike(tail)).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: find submissions by fingerprint tail: %v", apperr.ErrStoreFailure, err)
	}
	return out, nil
}

func (r *submissionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Model(&types.Submission{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("%w: update submission: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *submissionRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Submission{})
	if res.Error != nil {
		return fmt.Errorf("%w: delete submission: %v", apperr.ErrStoreFailure, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: submission %s", apperr.ErrNotFound, id)
	}
	return nil
}

// escapeLike neutralizes LIKE wildcards; fingerprints routinely contain
// "_" (e.g. sdk_gphone64).
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
