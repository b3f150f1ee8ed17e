// Package testdb opens throwaway sqlite databases for store-backed tests.
package testdb

import (
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/triagehub/compat-backend/internal/types"
)

var seq atomic.Int64

// Open returns an isolated in-memory database with all tables migrated.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.Submission{},
		&types.TestRun{},
		&types.TestCase{},
		&types.TestSuiteConfig{},
		&types.FailureCluster{},
		&types.FailureAnalysis{},
		&types.AnalysisJob{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}
