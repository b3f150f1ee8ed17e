// Package analysis runs the asynchronous LLM triage of a submission's
// failure clusters. Jobs are queued in the store, claimed by the worker,
// and the verdicts land on the submission row and the cluster rows; the
// synchronous report path only ever reads the stored results.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/report"
	"github.com/triagehub/compat-backend/internal/repos"
	"github.com/triagehub/compat-backend/internal/sse"
	"github.com/triagehub/compat-backend/internal/types"
)

// maxTestNamesPerCluster bounds the prompt size for very large clusters.
const maxTestNamesPerCluster = 10

type Service struct {
	db             *gorm.DB
	log            *logger.Logger
	submissionRepo repos.SubmissionRepo
	jobRepo        repos.AnalysisJobRepo
	clusterRepo    repos.FailureClusterRepo
	reports        *report.Service
	ai             AIClient
	hub            *sse.Hub
	cache          *report.Cache
}

func NewService(
	db *gorm.DB,
	baseLog *logger.Logger,
	submissionRepo repos.SubmissionRepo,
	jobRepo repos.AnalysisJobRepo,
	clusterRepo repos.FailureClusterRepo,
	reports *report.Service,
	ai AIClient,
	hub *sse.Hub,
	cache *report.Cache,
) *Service {
	return &Service{
		db:             db,
		log:            baseLog.With("service", "AnalysisService"),
		submissionRepo: submissionRepo,
		jobRepo:        jobRepo,
		clusterRepo:    clusterRepo,
		reports:        reports,
		ai:             ai,
		hub:            hub,
		cache:          cache,
	}
}

// Enqueue queues an analysis job for the submission and returns it. The
// caller gets the job id immediately; completion is published over SSE and
// via the submission's analysis_status column.
func (s *Service) Enqueue(ctx context.Context, submissionID uuid.UUID) (*types.AnalysisJob, error) {
	sub, err := s.submissionRepo.GetByID(ctx, nil, submissionID)
	if err != nil {
		return nil, err
	}

	job := &types.AnalysisJob{
		SubmissionID: sub.ID,
		JobType:      "submission_analysis",
		Status:       types.AnalysisJobStatusQueued,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.jobRepo.Enqueue(ctx, tx, job); err != nil {
			return err
		}
		return s.submissionRepo.UpdateFields(ctx, tx, sub.ID, map[string]interface{}{
			"analysis_status": types.AnalysisStatusQueued,
		})
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(sub.ID, sse.EventAnalysisQueued, map[string]any{"job_id": job.ID})
	s.log.Info("Queued submission analysis", "submission_id", sub.ID, "job_id", job.ID)
	return job, nil
}

// Execute runs one claimed job to completion. Called by the worker; the
// job row is already in running state.
func (s *Service) Execute(ctx context.Context, job *types.AnalysisJob) error {
	subID := job.SubmissionID
	if err := s.submissionRepo.UpdateFields(ctx, nil, subID, map[string]interface{}{
		"analysis_status": types.AnalysisStatusRunning,
	}); err != nil {
		return err
	}
	s.hub.Publish(subID, sse.EventAnalysisStarted, map[string]any{"job_id": job.ID})

	rep, err := s.reports.BuildReport(ctx, subID)
	if err != nil {
		return fmt.Errorf("build report for analysis: %w", err)
	}
	sub, err := s.submissionRepo.GetByID(ctx, nil, subID)
	if err != nil {
		return err
	}

	prompt := promptFromReport(sub, rep)
	if len(prompt.Clusters) == 0 {
		// Nothing persistent to triage; record the empty verdict.
		return s.storeResult(ctx, subID, rep, &SubmissionInsights{Overview: "No persistent failures."})
	}

	insights, err := s.ai.AnalyzeSubmission(ctx, prompt)
	if err != nil {
		return fmt.Errorf("analyze submission: %w", err)
	}
	return s.storeResult(ctx, subID, rep, insights)
}

// MarkFailed records a terminal job failure on the submission.
func (s *Service) MarkFailed(ctx context.Context, job *types.AnalysisJob, cause error) {
	if err := s.submissionRepo.UpdateFields(ctx, nil, job.SubmissionID, map[string]interface{}{
		"analysis_status": types.AnalysisStatusFailed,
	}); err != nil {
		s.log.Error("Failed to record analysis failure", "submission_id", job.SubmissionID, "error", err)
	}
	s.hub.Publish(job.SubmissionID, sse.EventAnalysisFailed, map[string]any{
		"job_id": job.ID,
		"error":  cause.Error(),
	})
}

func (s *Service) storeResult(ctx context.Context, subID uuid.UUID, rep *report.Report, insights *SubmissionInsights) error {
	raw, err := json.Marshal(insights)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.submissionRepo.UpdateFields(ctx, tx, subID, map[string]interface{}{
			"analysis_result": datatypes.JSON(raw),
			"analysis_status": types.AnalysisStatusCompleted,
		}); err != nil {
			return err
		}
		return s.persistClusterTriage(ctx, tx, rep, insights)
	})
	if err != nil {
		return err
	}

	// The stored verdicts change what the report shows.
	s.cache.Invalidate(ctx, subID)
	s.hub.Publish(subID, sse.EventAnalysisCompleted, map[string]any{
		"clusters": len(insights.Clusters),
	})
	s.log.Info("Stored submission analysis", "submission_id", subID, "clusters", len(insights.Clusters))
	return nil
}

// persistClusterTriage joins model verdicts back to the persisted cluster
// rows by failure count plus module substring, the same rule the
// aggregator overlay uses.
func (s *Service) persistClusterTriage(ctx context.Context, tx *gorm.DB, rep *report.Report, insights *SubmissionInsights) error {
	for i := range insights.Clusters {
		in := &insights.Clusters[i]
		target := matchClusterReport(rep.Clusters, in)
		if target == nil {
			s.log.Warn("Analysis verdict matched no cluster", "module", in.Module, "failures_count", in.FailuresCount)
			continue
		}
		err := s.clusterRepo.UpdateTriage(ctx, tx, target.ID, map[string]interface{}{
			"summary":              in.Summary,
			"severity":             strings.ToLower(in.Severity),
			"category":             in.Category,
			"confidence":           in.Confidence,
			"suggested_assignment": in.SuggestedAssignment,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func matchClusterReport(clusters []report.ClusterReport, in *ClusterInsight) *report.ClusterReport {
	for i := range clusters {
		c := &clusters[i]
		if c.FailuresCount != in.FailuresCount {
			continue
		}
		for _, mod := range c.ModuleNames {
			if strings.Contains(mod, in.Module) || strings.Contains(in.Module, mod) {
				return c
			}
		}
	}
	return nil
}

func promptFromReport(sub *types.Submission, rep *report.Report) SubmissionPrompt {
	prompt := SubmissionPrompt{
		DeviceName:  sub.Name,
		Fingerprint: sub.TargetFingerprint,
	}
	for _, c := range rep.Clusters {
		ci := ClusterInput{
			FailuresCount: c.FailuresCount,
		}
		if len(c.ModuleNames) > 0 {
			ci.Module = c.ModuleNames[0]
		}
		for _, item := range c.Items {
			if len(ci.TestNames) < maxTestNamesPerCluster {
				ci.TestNames = append(ci.TestNames, item.Key.String())
			}
			if ci.ExampleError == "" && item.FailureDetails != nil {
				ci.ExampleError = item.FailureDetails.ErrorMessage
				ci.ExampleTrace = truncate(item.FailureDetails.StackTrace, 2000)
			}
		}
		prompt.Clusters = append(prompt.Clusters, ci)
	}
	return prompt
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
