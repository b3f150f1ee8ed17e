// Package report composes the consolidated per-submission view: suites
// merged across runs, persistent failures clustered for triage, LLM
// insights overlaid when available.
package report

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/clustering"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/merge"
	"github.com/triagehub/compat-backend/internal/repos"
	"github.com/triagehub/compat-backend/internal/suite"
	"github.com/triagehub/compat-backend/internal/types"
)

const (
	SuiteStatusOK    = "ok"
	SuiteStatusError = "error"
)

// clusterMinSize is the density threshold used for report clustering.
const clusterMinSize = 2

type SuiteSummary struct {
	Initial   int `json:"initial"`
	Recovered int `json:"recovered"`
	Remaining int `json:"remaining"`
}

type SuiteReport struct {
	SuiteName  string       `json:"suite_name"`
	RunIDs     []uuid.UUID  `json:"run_ids"`
	Summary    SuiteSummary `json:"summary"`
	TotalTests int          `json:"total_tests"`
	Items      []merge.Item `json:"items"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
}

type ClusterReport struct {
	ID            uuid.UUID    `json:"id"`
	Title         string       `json:"title"`
	Signature     string       `json:"signature"`
	FailuresCount int          `json:"failures_count"`
	Severity      string       `json:"severity,omitempty"`
	Category      string       `json:"category,omitempty"`
	Summary       string       `json:"summary,omitempty"`
	ModuleNames   []string     `json:"module_names"`
	Items         []merge.Item `json:"items"`
}

type Report struct {
	SubmissionID         uuid.UUID          `json:"submission_id"`
	GeneratedAt          time.Time          `json:"generated_at"`
	TotalInitialFailures int                `json:"total_initial_failures"`
	TotalRecovered       int                `json:"total_recovered"`
	RemainingFailures    int                `json:"remaining_failures"`
	Suites               []SuiteReport      `json:"suites"`
	Clusters             []ClusterReport    `json:"clusters"`
	ClusterMetrics       clustering.Metrics `json:"cluster_metrics"`
}

// AIClusterInsight is the per-cluster fragment of the cached LLM analysis
// blob; matched to report clusters by failure count plus module substring.
type AIClusterInsight struct {
	Module              string  `json:"module"`
	FailuresCount       int     `json:"failures_count"`
	Severity            string  `json:"severity"`
	Category            string  `json:"category"`
	Summary             string  `json:"summary"`
	Confidence          float64 `json:"confidence"`
	SuggestedAssignment string  `json:"suggested_assignment"`
}

type aiAnalysis struct {
	Clusters []AIClusterInsight `json:"clusters"`
}

// Service builds submission reports.
type Service struct {
	db             *gorm.DB
	log            *logger.Logger
	submissionRepo repos.SubmissionRepo
	testRunRepo    repos.TestRunRepo
	testCaseRepo   repos.TestCaseRepo
	suiteCfgRepo   repos.SuiteConfigRepo
	clusterRepo    repos.FailureClusterRepo
	cache          *Cache
	categories     *CategoryMap
}

func NewService(
	db *gorm.DB,
	baseLog *logger.Logger,
	submissionRepo repos.SubmissionRepo,
	testRunRepo repos.TestRunRepo,
	testCaseRepo repos.TestCaseRepo,
	suiteCfgRepo repos.SuiteConfigRepo,
	clusterRepo repos.FailureClusterRepo,
	cache *Cache,
	categories *CategoryMap,
) *Service {
	if categories == nil {
		categories = DefaultCategories()
	}
	return &Service{
		db:             db,
		log:            baseLog.With("service", "ReportService"),
		submissionRepo: submissionRepo,
		testRunRepo:    testRunRepo,
		testCaseRepo:   testCaseRepo,
		suiteCfgRepo:   suiteCfgRepo,
		clusterRepo:    clusterRepo,
		cache:          cache,
		categories:     categories,
	}
}

// BuildReport composes the full report for a submission. Partial suite
// failures are embedded per-suite; only store failures on the outer loads
// abort the call.
func (s *Service) BuildReport(ctx context.Context, submissionID uuid.UUID) (*Report, error) {
	if cached, ok := s.cache.Get(ctx, submissionID); ok {
		return cached, nil
	}

	sub, err := s.submissionRepo.GetByID(ctx, nil, submissionID)
	if err != nil {
		return nil, err
	}
	runs, err := s.testRunRepo.ListBySubmission(ctx, nil, submissionID)
	if err != nil {
		return nil, err
	}
	configs, err := s.suiteCfgRepo.List(ctx, nil)
	if err != nil {
		return nil, err
	}

	partitions := partitionRuns(runs, configs, sub.TargetFingerprint)

	rep := &Report{
		SubmissionID: submissionID,
		GeneratedAt:  time.Now().UTC(),
	}

	suiteReports := make([]SuiteReport, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	for i := range partitions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			suiteReports[i] = s.buildSuite(gctx, partitions[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var persistent []merge.Item
	for i := range suiteReports {
		sr := &suiteReports[i]
		if sr.Status != SuiteStatusOK {
			continue
		}
		rep.TotalInitialFailures += sr.Summary.Initial
		rep.TotalRecovered += sr.Summary.Recovered
		rep.RemainingFailures += sr.Summary.Remaining
		for _, it := range sr.Items {
			if !it.IsRecovered {
				persistent = append(persistent, it)
			}
		}
	}
	rep.Suites = suiteReports

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clusters, metrics, err := s.clusterPersistent(ctx, persistent)
	if err != nil {
		return nil, err
	}
	rep.Clusters = clusters
	rep.ClusterMetrics = metrics

	s.overlayInsights(rep, sub)
	sortClusters(rep.Clusters)

	s.cache.Set(ctx, rep)
	return rep, nil
}

// partitionRuns assigns each run to the first suite config it matches, in
// config sort order. A run matching nothing is left out of the report.
func partitionRuns(runs []*types.TestRun, configs []*types.TestSuiteConfig, targetFP string) []suitePartition {
	parts := make([]suitePartition, 0, len(configs))
	byCfg := make(map[string]int)
	for _, run := range runs {
		for _, cfg := range configs {
			if !suite.Match(run, cfg, targetFP) {
				continue
			}
			idx, ok := byCfg[cfg.Name]
			if !ok {
				idx = len(parts)
				byCfg[cfg.Name] = idx
				parts = append(parts, suitePartition{Config: cfg})
			}
			parts[idx].Runs = append(parts[idx].Runs, run)
			break
		}
	}
	return parts
}

type suitePartition struct {
	Config *types.TestSuiteConfig
	Runs   []*types.TestRun
}

func (s *Service) buildSuite(ctx context.Context, part suitePartition) SuiteReport {
	sr := SuiteReport{
		SuiteName: part.Config.Name,
		Status:    SuiteStatusOK,
	}
	runIDs := make([]uuid.UUID, 0, len(part.Runs))
	for _, r := range part.Runs {
		runIDs = append(runIDs, r.ID)
	}
	sr.RunIDs = runIDs

	cases, err := s.testCaseRepo.ListByRunIDs(ctx, nil, runIDs)
	if err != nil {
		// One corrupt suite must not take the whole report down.
		s.log.Error("Suite merge failed, reporting partial result", "suite", part.Config.Name, "error", err)
		sr.Status = SuiteStatusError
		sr.Error = err.Error()
		return sr
	}
	res := merge.Merge(part.Runs, cases)
	sr.Summary = SuiteSummary{Initial: res.Initial, Recovered: res.Recovered, Remaining: res.Remaining}
	sr.TotalTests = res.TotalTests
	sr.Items = res.Items
	return sr
}

// clusterPersistent runs the clusterer over the remaining failures and
// persists the resulting clusters by signature.
func (s *Service) clusterPersistent(ctx context.Context, persistent []merge.Item) ([]ClusterReport, clustering.Metrics, error) {
	failures := make([]clustering.Failure, 0, len(persistent))
	for _, it := range persistent {
		f := clustering.Failure{
			ModuleName: it.Key.ModuleName,
			ModuleABI:  it.Key.ModuleABI,
			ClassName:  it.Key.ClassName,
			MethodName: it.Key.MethodName,
		}
		if it.FailureDetails != nil {
			f.ID = it.FailureDetails.ID.String()
			f.ErrorMessage = it.FailureDetails.ErrorMessage
			f.StackTrace = it.FailureDetails.StackTrace
		}
		failures = append(failures, f)
	}

	res := clustering.Cluster(failures, clusterMinSize)

	reports := make([]ClusterReport, 0, len(res.Summaries))
	for _, sum := range res.Summaries {
		rep := ClusterReport{
			Signature:     sum.Signature,
			Title:         clusterTitle(failures[sum.Representative]),
			FailuresCount: sum.Count,
			ModuleNames:   make([]string, 0, len(sum.Modules)),
		}
		for _, m := range sum.Modules {
			rep.ModuleNames = append(rep.ModuleNames, m.Name)
		}
		var caseIDs []uuid.UUID
		for i, label := range res.Labels {
			if label != sum.Label {
				continue
			}
			rep.Items = append(rep.Items, persistent[i])
			if persistent[i].FailureDetails != nil {
				caseIDs = append(caseIDs, persistent[i].FailureDetails.ID)
			}
		}

		row := &types.FailureCluster{
			Signature:   sum.Signature,
			Description: rep.Title,
		}
		if err := s.clusterRepo.UpsertBySignature(ctx, nil, row); err != nil {
			return nil, res.Metrics, err
		}
		if err := s.clusterRepo.LinkCases(ctx, nil, row.ID, caseIDs); err != nil {
			return nil, res.Metrics, err
		}
		rep.ID = row.ID
		// Previously stored triage fields survive re-clustering.
		rep.Severity = row.Severity
		rep.Category = row.Category
		rep.Summary = row.Summary
		reports = append(reports, rep)
	}
	if _, err := s.clusterRepo.GCOrphans(ctx, nil); err != nil {
		s.log.Warn("Orphan cluster GC failed", "error", err)
	}
	return reports, res.Metrics, nil
}

func clusterTitle(f clustering.Failure) string {
	if exc := f.ExceptionType(); exc != "" {
		return f.ModuleName + ": " + shortExceptionName(exc)
	}
	return f.ModuleName + ": " + f.ClassName
}

func shortExceptionName(fq string) string {
	if i := strings.LastIndexByte(fq, '.'); i >= 0 {
		return fq[i+1:]
	}
	return fq
}

// overlayInsights copies LLM-derived fields from the submission's cached
// analysis blob onto matching clusters, then fills categories from the
// fallback map.
func (s *Service) overlayInsights(rep *Report, sub *types.Submission) {
	var analysis aiAnalysis
	if len(sub.AnalysisResult) > 0 {
		if err := json.Unmarshal(sub.AnalysisResult, &analysis); err != nil {
			s.log.Warn("Cached analysis result unreadable, skipping overlay", "submission_id", sub.ID, "error", err)
		}
	}
	for i := range rep.Clusters {
		c := &rep.Clusters[i]
		if insight := matchInsight(analysis.Clusters, c); insight != nil {
			c.Severity = insight.Severity
			c.Category = insight.Category
			c.Summary = insight.Summary
		}
		if c.Category == "" {
			if len(c.ModuleNames) > 0 {
				c.Category = s.categories.Lookup(c.ModuleNames[0])
			} else {
				c.Category = s.categories.Lookup("")
			}
		}
	}
}

func matchInsight(insights []AIClusterInsight, c *ClusterReport) *AIClusterInsight {
	for i := range insights {
		in := &insights[i]
		if in.FailuresCount != c.FailuresCount {
			continue
		}
		for _, mod := range c.ModuleNames {
			if strings.Contains(mod, in.Module) || strings.Contains(in.Module, mod) {
				return in
			}
		}
	}
	return nil
}

var severityRank = map[string]int{
	"critical": 4,
	"high":     3,
	"medium":   2,
	"low":      1,
}

func sortClusters(clusters []ClusterReport) {
	sort.SliceStable(clusters, func(a, b int) bool {
		ra := severityRank[strings.ToLower(clusters[a].Severity)]
		rb := severityRank[strings.ToLower(clusters[b].Severity)]
		if ra != rb {
			return ra > rb
		}
		return clusters[a].FailuresCount > clusters[b].FailuresCount
	})
}
