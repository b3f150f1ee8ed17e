// Package ingestion persists parsed result files and hands the new run to
// the submission matcher. It owns the store-shape invariant: only failures
// and explicit-recovery passes are persisted per run; always-passing cases
// exist only in the run's rollup counts.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/apperr"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/report"
	"github.com/triagehub/compat-backend/internal/repos"
	"github.com/triagehub/compat-backend/internal/submission"
	"github.com/triagehub/compat-backend/internal/types"
)

// Metadata is the run header of one parsed result file.
type Metadata struct {
	TestSuiteName     string    `json:"test_suite_name"`
	SuitePlan         string    `json:"suite_plan"`
	SuiteVersion      string    `json:"suite_version"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	BuildBrand        string    `json:"build_brand"`
	BuildProduct      string    `json:"build_product"`
	BuildModel        string    `json:"build_model"`
	BuildDevice       string    `json:"build_device"`
	SecurityPatch     string    `json:"security_patch"`
	AndroidVersion    string    `json:"android_version"`
	BuildABIs         string    `json:"build_abis"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
}

// Stats are the file-level rollup counts.
type Stats struct {
	TotalTests    int `json:"total_tests"`
	PassedTests   int `json:"passed_tests"`
	FailedTests   int `json:"failed_tests"`
	IgnoredTests  int `json:"ignored_tests"`
	TotalModules  int `json:"total_modules"`
	PassedModules int `json:"passed_modules"`
	FailedModules int `json:"failed_modules"`
}

// CaseRecord is one parsed test result.
type CaseRecord struct {
	ModuleName   string `json:"module_name"`
	ModuleABI    string `json:"module_abi"`
	ClassName    string `json:"class_name"`
	MethodName   string `json:"method_name"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	StackTrace   string `json:"stack_trace,omitempty"`
}

func (c CaseRecord) key() types.TestCaseKey {
	return types.TestCaseKey{
		ModuleName: c.ModuleName,
		ModuleABI:  c.ModuleABI,
		ClassName:  c.ClassName,
		MethodName: c.MethodName,
	}
}

// RunInput is the ingestion input record produced by the XML reader.
type RunInput struct {
	Metadata Metadata     `json:"metadata"`
	Stats    Stats        `json:"stats"`
	Failures []CaseRecord `json:"failures"`
	Passes   []CaseRecord `json:"passes"`
	Modules  []string     `json:"modules"`
}

type Service struct {
	db             *gorm.DB
	log            *logger.Logger
	submissionRepo repos.SubmissionRepo
	testRunRepo    repos.TestRunRepo
	testCaseRepo   repos.TestCaseRepo
	clusterRepo    repos.FailureClusterRepo
	matcher        *submission.Matcher
	cache          *report.Cache
}

func NewService(
	db *gorm.DB,
	baseLog *logger.Logger,
	submissionRepo repos.SubmissionRepo,
	testRunRepo repos.TestRunRepo,
	testCaseRepo repos.TestCaseRepo,
	clusterRepo repos.FailureClusterRepo,
	matcher *submission.Matcher,
	cache *report.Cache,
) *Service {
	return &Service{
		db:             db,
		log:            baseLog.With("service", "IngestionService"),
		submissionRepo: submissionRepo,
		testRunRepo:    testRunRepo,
		testCaseRepo:   testCaseRepo,
		clusterRepo:    clusterRepo,
		matcher:        matcher,
		cache:          cache,
	}
}

// IngestRun persists one parsed run, attaches it to a submission and
// invalidates the submission's cached report. Re-uploading the same file
// returns the already-ingested run together with ErrDuplicateRun.
func (s *Service) IngestRun(ctx context.Context, in *RunInput) (*types.TestRun, *types.Submission, error) {
	if err := validate(in); err != nil {
		return nil, nil, err
	}

	if existing, err := s.testRunRepo.FindDuplicate(ctx, nil, in.Metadata.DeviceFingerprint, in.Metadata.StartTime); err != nil {
		return nil, nil, err
	} else if existing != nil {
		return existing, nil, fmt.Errorf("%w: run %s already ingested", apperr.ErrDuplicateRun, existing.ID)
	}

	run := runFromInput(in)
	var sub *types.Submission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.testRunRepo.Create(ctx, tx, run); err != nil {
			return err
		}
		if err := s.testCaseRepo.BulkCreate(ctx, tx, failureRows(run.ID, in.Failures)); err != nil {
			return err
		}

		attached, err := s.matcher.Attach(ctx, tx, run)
		if err != nil {
			return err
		}
		sub = attached

		if sub != nil {
			recoveries, err := s.recoveryRows(ctx, tx, run, in, sub)
			if err != nil {
				return err
			}
			if err := s.testCaseRepo.BulkCreate(ctx, tx, recoveries); err != nil {
				return err
			}
		}
		return s.testRunRepo.UpdateStatus(ctx, tx, run.ID, types.TestRunStatusCompleted)
	})
	if err != nil {
		return nil, nil, err
	}

	run.Status = types.TestRunStatusCompleted
	if sub != nil {
		s.cache.Invalidate(ctx, sub.ID)
		s.log.Info("Ingested run",
			"run_id", run.ID,
			"submission_id", sub.ID,
			"suite", run.TestSuiteName,
			"failed", run.FailedTests)
	} else {
		s.log.Warn("Ingested run without usable fingerprint, left unassigned",
			"run_id", run.ID, "fingerprint", run.DeviceFingerprint)
	}
	return run, sub, nil
}

// DeleteSubmission removes a submission and everything hanging off it, then
// garbage-collects clusters left without members.
func (s *Service) DeleteSubmission(ctx context.Context, id uuid.UUID) error {
	if _, err := s.submissionRepo.GetByID(ctx, nil, id); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		runs, err := s.testRunRepo.ListBySubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		runIDs := make([]uuid.UUID, 0, len(runs))
		for _, r := range runs {
			runIDs = append(runIDs, r.ID)
		}
		if err := s.testCaseRepo.DeleteByRunIDs(ctx, tx, runIDs); err != nil {
			return err
		}
		if err := s.testRunRepo.DeleteBySubmission(ctx, tx, id); err != nil {
			return err
		}
		if err := s.submissionRepo.Delete(ctx, tx, id); err != nil {
			return err
		}
		_, err = s.clusterRepo.GCOrphans(ctx, tx)
		return err
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, id)
	s.log.Info("Deleted submission", "submission_id", id)
	return nil
}

func validate(in *RunInput) error {
	if in == nil {
		return fmt.Errorf("%w: empty run input", apperr.ErrInvalidInput)
	}
	if in.Metadata.TestSuiteName == "" {
		return fmt.Errorf("%w: missing test_suite_name", apperr.ErrInvalidInput)
	}
	if in.Metadata.DeviceFingerprint == "" {
		return fmt.Errorf("%w: missing device_fingerprint", apperr.ErrInvalidInput)
	}
	if in.Metadata.StartTime.IsZero() {
		return fmt.Errorf("%w: missing start_time", apperr.ErrInvalidInput)
	}
	return nil
}

func runFromInput(in *RunInput) *types.TestRun {
	md := in.Metadata
	return &types.TestRun{
		TestSuiteName:     md.TestSuiteName,
		SuitePlan:         md.SuitePlan,
		SuiteVersion:      md.SuiteVersion,
		BuildBrand:        md.BuildBrand,
		BuildProduct:      md.BuildProduct,
		BuildModel:        md.BuildModel,
		BuildDevice:       md.BuildDevice,
		DeviceFingerprint: md.DeviceFingerprint,
		SecurityPatch:     md.SecurityPatch,
		AndroidVersion:    md.AndroidVersion,
		BuildABIs:         md.BuildABIs,
		StartTime:         md.StartTime,
		EndTime:           md.EndTime,
		TotalTests:        in.Stats.TotalTests,
		PassedTests:       in.Stats.PassedTests,
		FailedTests:       in.Stats.FailedTests,
		IgnoredTests:      in.Stats.IgnoredTests,
		Status:            types.TestRunStatusProcessing,
	}
}

// failureRows converts the parsed failures, dropping in-file duplicates of
// the same key. The first record wins.
func failureRows(runID uuid.UUID, failures []CaseRecord) []*types.TestCase {
	seen := make(map[types.TestCaseKey]struct{}, len(failures))
	out := make([]*types.TestCase, 0, len(failures))
	for _, f := range failures {
		k := f.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		status := f.Status
		if status == "" {
			status = types.TestCaseStatusFail
		}
		out = append(out, &types.TestCase{
			TestRunID:    runID,
			ModuleName:   f.ModuleName,
			ModuleABI:    f.ModuleABI,
			ClassName:    f.ClassName,
			MethodName:   f.MethodName,
			Status:       status,
			ErrorMessage: f.ErrorMessage,
			StackTrace:   f.StackTrace,
		})
	}
	return out
}

// recoveryRows filters the incoming passes down to explicit-recovery
// records: keys that failed in an earlier run of the same submission and
// are not failing in this run. Everything else is rollup-only.
func (s *Service) recoveryRows(ctx context.Context, tx *gorm.DB, run *types.TestRun, in *RunInput, sub *types.Submission) ([]*types.TestCase, error) {
	if len(in.Passes) == 0 {
		return nil, nil
	}
	failedKeys, err := s.testCaseRepo.FailedKeysForSubmission(ctx, tx, sub.ID)
	if err != nil {
		return nil, err
	}
	currentFails := make(map[types.TestCaseKey]struct{}, len(in.Failures))
	for _, f := range in.Failures {
		currentFails[f.key()] = struct{}{}
	}
	seen := make(map[types.TestCaseKey]struct{}, len(in.Passes))
	var out []*types.TestCase
	for _, p := range in.Passes {
		k := p.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, failing := currentFails[k]; failing {
			continue
		}
		if _, everFailed := failedKeys[k]; !everFailed {
			continue
		}
		out = append(out, &types.TestCase{
			TestRunID:  run.ID,
			ModuleName: p.ModuleName,
			ModuleABI:  p.ModuleABI,
			ClassName:  p.ClassName,
			MethodName: p.MethodName,
			Status:     types.TestCaseStatusPass,
		})
	}
	return out, nil
}
