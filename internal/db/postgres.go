package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/types"
	"github.com/triagehub/compat-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost")
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432")
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres")
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "")
	postgresName := utils.GetEnv("POSTGRES_NAME", "compathub")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Submission{},
		&types.TestRun{},
		&types.TestCase{},
		&types.TestSuiteConfig{},
		&types.FailureCluster{},
		&types.FailureAnalysis{},
		&types.AnalysisJob{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}
	s.log.Info("Configuring foreign key relationships for postgres tables...")
	for _, ddl := range cascadeDDL {
		if err := s.db.Exec(ddl.stmt).Error; err != nil {
			return fmt.Errorf("failed to add %s: %w", ddl.name, err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}

var cascadeDDL = []struct {
	name string
	stmt string
}{
	{
		name: "fk_test_run_submission_id",
		stmt: `
			ALTER TABLE "test_run"
			DROP CONSTRAINT IF EXISTS "fk_test_run_submission_id";
			ALTER TABLE "test_run"
			ADD CONSTRAINT "fk_test_run_submission_id"
			FOREIGN KEY ("submission_id")
			REFERENCES "submission"("id")
			ON DELETE CASCADE`,
	},
	{
		name: "fk_test_case_test_run_id",
		stmt: `
			ALTER TABLE "test_case"
			DROP CONSTRAINT IF EXISTS "fk_test_case_test_run_id";
			ALTER TABLE "test_case"
			ADD CONSTRAINT "fk_test_case_test_run_id"
			FOREIGN KEY ("test_run_id")
			REFERENCES "test_run"("id")
			ON DELETE CASCADE`,
	},
	{
		name: "fk_failure_analysis_test_case_id",
		stmt: `
			ALTER TABLE "failure_analysis"
			DROP CONSTRAINT IF EXISTS "fk_failure_analysis_test_case_id";
			ALTER TABLE "failure_analysis"
			ADD CONSTRAINT "fk_failure_analysis_test_case_id"
			FOREIGN KEY ("test_case_id")
			REFERENCES "test_case"("id")
			ON DELETE CASCADE`,
	},
	{
		name: "fk_failure_analysis_cluster_id",
		stmt: `
			ALTER TABLE "failure_analysis"
			DROP CONSTRAINT IF EXISTS "fk_failure_analysis_cluster_id";
			ALTER TABLE "failure_analysis"
			ADD CONSTRAINT "fk_failure_analysis_cluster_id"
			FOREIGN KEY ("cluster_id")
			REFERENCES "failure_cluster"("id")
			ON DELETE CASCADE`,
	},
	{
		name: "fk_analysis_job_submission_id",
		stmt: `
			ALTER TABLE "analysis_job"
			DROP CONSTRAINT IF EXISTS "fk_analysis_job_submission_id";
			ALTER TABLE "analysis_job"
			ADD CONSTRAINT "fk_analysis_job_submission_id"
			FOREIGN KEY ("submission_id")
			REFERENCES "submission"("id")
			ON DELETE CASCADE`,
	},
}
