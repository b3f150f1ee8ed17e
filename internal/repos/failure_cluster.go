package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/triagehub/compat-backend/internal/apperr"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/types"
)

type FailureClusterRepo interface {
	// UpsertBySignature creates or refreshes a cluster row keyed by its
	// signature and fills in the row's id.
	UpsertBySignature(ctx context.Context, tx *gorm.DB, cluster *types.FailureCluster) error
	GetBySignature(ctx context.Context, tx *gorm.DB, signature string) (*types.FailureCluster, error)
	ListByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.FailureCluster, error)
	// LinkCases writes one FailureAnalysis per test case, replacing any
	// previous assignment for that case.
	LinkCases(ctx context.Context, tx *gorm.DB, clusterID uuid.UUID, testCaseIDs []uuid.UUID) error
	// UpdateTriage writes LLM-derived triage fields onto a cluster row.
	UpdateTriage(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// GCOrphans removes clusters no FailureAnalysis references anymore.
	GCOrphans(ctx context.Context, tx *gorm.DB) (int64, error)
}

type failureClusterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFailureClusterRepo(db *gorm.DB, baseLog *logger.Logger) FailureClusterRepo {
	return &failureClusterRepo{
		db:  db,
		log: baseLog.With("repo", "FailureClusterRepo"),
	}
}

func (r *failureClusterRepo) UpsertBySignature(ctx context.Context, tx *gorm.DB, cluster *types.FailureCluster) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cluster.ID == uuid.Nil {
		cluster.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "signature"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "updated_at"}),
		}).
		Create(cluster).Error; err != nil {
		return fmt.Errorf("%w: upsert cluster: %v", apperr.ErrStoreFailure, err)
	}
	// On conflict the insert kept the existing row; reload to get its id.
	var existing types.FailureCluster
	if err := transaction.WithContext(ctx).
		Where("signature = ?", cluster.Signature).
		First(&existing).Error; err != nil {
		return fmt.Errorf("%w: reload cluster: %v", apperr.ErrStoreFailure, err)
	}
	*cluster = existing
	return nil
}

func (r *failureClusterRepo) GetBySignature(ctx context.Context, tx *gorm.DB, signature string) (*types.FailureCluster, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var cluster types.FailureCluster
	err := transaction.WithContext(ctx).
		Where("signature = ?", signature).
		First(&cluster).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get cluster by signature: %v", apperr.ErrStoreFailure, err)
	}
	return &cluster, nil
}

func (r *failureClusterRepo) ListByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.FailureCluster, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.FailureCluster
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: list clusters: %v", apperr.ErrStoreFailure, err)
	}
	return out, nil
}

func (r *failureClusterRepo) LinkCases(ctx context.Context, tx *gorm.DB, clusterID uuid.UUID, testCaseIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(testCaseIDs) == 0 {
		return nil
	}
	analyses := make([]*types.FailureAnalysis, 0, len(testCaseIDs))
	for _, tcID := range testCaseIDs {
		analyses = append(analyses, &types.FailureAnalysis{
			ID:         uuid.New(),
			TestCaseID: tcID,
			ClusterID:  clusterID,
		})
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "test_case_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"cluster_id", "updated_at"}),
		}).
		Create(&analyses).Error; err != nil {
		return fmt.Errorf("%w: link cases to cluster: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *failureClusterRepo) UpdateTriage(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Model(&types.FailureCluster{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("%w: update cluster triage: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}

func (r *failureClusterRepo) GCOrphans(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("id NOT IN (?)", transaction.Session(&gorm.Session{NewDB: true}).
			Model(&types.FailureAnalysis{}).
			Select("DISTINCT cluster_id")).
		Delete(&types.FailureCluster{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: gc orphan clusters: %v", apperr.ErrStoreFailure, res.Error)
	}
	return res.RowsAffected, nil
}
