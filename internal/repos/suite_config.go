package repos

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/triagehub/compat-backend/internal/apperr"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/types"
)

type SuiteConfigRepo interface {
	List(ctx context.Context, tx *gorm.DB) ([]*types.TestSuiteConfig, error)
	// Seed inserts the configured suites, leaving already-present rows
	// untouched (identity is the unique name).
	Seed(ctx context.Context, tx *gorm.DB, configs []*types.TestSuiteConfig) error
}

type suiteConfigRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSuiteConfigRepo(db *gorm.DB, baseLog *logger.Logger) SuiteConfigRepo {
	return &suiteConfigRepo{
		db:  db,
		log: baseLog.With("repo", "SuiteConfigRepo"),
	}
}

func (r *suiteConfigRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.TestSuiteConfig, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TestSuiteConfig
	if err := transaction.WithContext(ctx).
		Order("sort_order ASC, name ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: list suite configs: %v", apperr.ErrStoreFailure, err)
	}
	return out, nil
}

func (r *suiteConfigRepo) Seed(ctx context.Context, tx *gorm.DB, configs []*types.TestSuiteConfig) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(configs) == 0 {
		return nil
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(&configs).Error; err != nil {
		return fmt.Errorf("%w: seed suite configs: %v", apperr.ErrStoreFailure, err)
	}
	return nil
}
