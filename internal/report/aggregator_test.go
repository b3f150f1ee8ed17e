package report

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/repos"
	"github.com/triagehub/compat-backend/internal/testdb"
	"github.com/triagehub/compat-backend/internal/types"
)

type fixture struct {
	db      *gorm.DB
	svc     *Service
	subRepo repos.SubmissionRepo
	runRepo repos.TestRunRepo
	tcRepo  repos.TestCaseRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.Open(t)
	log := logger.NewNop()
	subRepo := repos.NewSubmissionRepo(db, log)
	runRepo := repos.NewTestRunRepo(db, log)
	tcRepo := repos.NewTestCaseRepo(db, log)
	cfgRepo := repos.NewSuiteConfigRepo(db, log)
	clRepo := repos.NewFailureClusterRepo(db, log)

	configs := []*types.TestSuiteConfig{
		{Name: "CTS", DisplayName: "CTS", MatchRule: types.MatchRuleStandard, SortOrder: 1},
		{Name: "CTS-on-GSI", DisplayName: "CTS on GSI", MatchRule: types.MatchRuleGSI, SortOrder: 2},
		{Name: "VTS", DisplayName: "VTS", MatchRule: types.MatchRuleStandard, SortOrder: 3},
	}
	if err := cfgRepo.Seed(context.Background(), nil, configs); err != nil {
		t.Fatalf("seed suite configs: %v", err)
	}

	svc := NewService(db, log, subRepo, runRepo, tcRepo, cfgRepo, clRepo,
		NewCache(log, nil, time.Minute), DefaultCategories())
	return &fixture{db: db, svc: svc, subRepo: subRepo, runRepo: runRepo, tcRepo: tcRepo}
}

func (f *fixture) submission(t *testing.T, analysis []byte) *types.Submission {
	t.Helper()
	sub := &types.Submission{
		Name:              "Acme tab10 (t10)",
		TargetFingerprint: "Acme/tab10/t10:14/UQ1A.240101.001/100:user/release-keys",
		Status:            types.SubmissionStatusAnalyzing,
	}
	if analysis != nil {
		sub.AnalysisResult = datatypes.JSON(analysis)
	}
	if err := f.subRepo.Create(context.Background(), nil, sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return sub
}

func (f *fixture) run(t *testing.T, subID uuid.UUID, suiteName, plan string, start time.Time, passed, failed int) *types.TestRun {
	t.Helper()
	run := &types.TestRun{
		SubmissionID:      &subID,
		TestSuiteName:     suiteName,
		SuitePlan:         plan,
		DeviceFingerprint: "Acme/tab10/t10:14/UQ1A.240101.001/100:user/release-keys",
		StartTime:         start,
		PassedTests:       passed,
		FailedTests:       failed,
		Status:            types.TestRunStatusCompleted,
	}
	if err := f.runRepo.Create(context.Background(), nil, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func (f *fixture) cases(t *testing.T, cs []*types.TestCase) {
	t.Helper()
	if err := f.tcRepo.BulkCreate(context.Background(), nil, cs); err != nil {
		t.Fatalf("bulk create cases: %v", err)
	}
}

func mediaCase(runID uuid.UUID, i int, status string) *types.TestCase {
	tc := &types.TestCase{
		TestRunID:  runID,
		ModuleName: "CtsMediaDecoderTestCases",
		ModuleABI:  "arm64-v8a",
		ClassName:  "android.media.decoder.cts.DecoderTest",
		MethodName: fmt.Sprintf("testDecode%02d", i),
		Status:     status,
	}
	if status == types.TestCaseStatusFail {
		tc.ErrorMessage = "java.lang.IllegalStateException: codec in released state"
		tc.StackTrace = "java.lang.IllegalStateException: codec in released state\n" +
			"\tat android.media.MediaCodec.native_dequeueOutputBuffer(Native Method)\n" +
			"\tat android.media.decoder.cts.DecoderTest.decodeClip(DecoderTest.java:311)\n"
	}
	return tc
}

func netCase(runID uuid.UUID, i int, status string) *types.TestCase {
	tc := &types.TestCase{
		TestRunID:  runID,
		ModuleName: "CtsNetTestCases",
		ModuleABI:  "arm64-v8a",
		ClassName:  "android.net.cts.ConnectivityManagerTest",
		MethodName: fmt.Sprintf("testRequestNetwork%02d", i),
		Status:     status,
	}
	if status == types.TestCaseStatusFail {
		tc.ErrorMessage = "java.net.SocketTimeoutException: connect timed out"
		tc.StackTrace = "java.net.SocketTimeoutException: connect timed out\n" +
			"\tat java.net.PlainSocketImpl.socketConnect(Native Method)\n" +
			"\tat android.net.cts.ConnectivityManagerTest.requestAndWait(ConnectivityManagerTest.java:188)\n"
	}
	return tc
}

func TestBuildReport_PartitionsMergesAndClusters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submission(t, nil)
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	// Initial CTS run: 4 media + 3 net failures.
	ctsInitial := f.run(t, sub.ID, "CTS", "cts", t0, 993, 7)
	var initial []*types.TestCase
	for i := 0; i < 4; i++ {
		initial = append(initial, mediaCase(ctsInitial.ID, i, types.TestCaseStatusFail))
	}
	for i := 0; i < 3; i++ {
		initial = append(initial, netCase(ctsInitial.ID, i, types.TestCaseStatusFail))
	}
	f.cases(t, initial)

	// Retry recovers every net failure; media keeps failing.
	ctsRetry := f.run(t, sub.ID, "CTS", "retry", t0.Add(4*time.Hour), 3, 4)
	var retry []*types.TestCase
	for i := 0; i < 4; i++ {
		retry = append(retry, mediaCase(ctsRetry.ID, i, types.TestCaseStatusFail))
	}
	for i := 0; i < 3; i++ {
		retry = append(retry, netCase(ctsRetry.ID, i, types.TestCaseStatusPass))
	}
	f.cases(t, retry)

	// A VTS run with one failure lands in its own suite bucket.
	vts := f.run(t, sub.ID, "VTS", "vts", t0.Add(time.Hour), 499, 1)
	f.cases(t, []*types.TestCase{{
		TestRunID:    vts.ID,
		ModuleName:   "VtsHalCameraProviderTargetTest",
		ClassName:    "PerInstance/CameraHidlTest",
		MethodName:   "configureStreams#0",
		Status:       types.TestCaseStatusFail,
		ErrorMessage: "Expected: (ret.isOk()) == (true)",
	}})

	rep, err := f.svc.BuildReport(ctx, sub.ID)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	if rep.TotalInitialFailures != 8 || rep.TotalRecovered != 3 || rep.RemainingFailures != 5 {
		t.Fatalf("totals = %d/%d/%d, want 8/3/5",
			rep.TotalInitialFailures, rep.TotalRecovered, rep.RemainingFailures)
	}
	if len(rep.Suites) != 2 {
		t.Fatalf("suites = %d, want 2 (CTS, VTS)", len(rep.Suites))
	}
	bySuite := map[string]SuiteReport{}
	for _, sr := range rep.Suites {
		bySuite[sr.SuiteName] = sr
	}
	cts, ok := bySuite["CTS"]
	if !ok {
		t.Fatal("missing CTS suite report")
	}
	if cts.Summary != (SuiteSummary{Initial: 7, Recovered: 3, Remaining: 4}) {
		t.Fatalf("CTS summary = %+v", cts.Summary)
	}
	if cts.TotalTests != 1000 {
		t.Fatalf("CTS total tests = %d, want 1000", cts.TotalTests)
	}
	if len(cts.RunIDs) != 2 {
		t.Fatalf("CTS run ids = %v", cts.RunIDs)
	}
	vtsRep, ok := bySuite["VTS"]
	if !ok {
		t.Fatal("missing VTS suite report")
	}
	if vtsRep.Summary != (SuiteSummary{Initial: 1, Recovered: 0, Remaining: 1}) {
		t.Fatalf("VTS summary = %+v", vtsRep.Summary)
	}

	// Every remaining failure appears in exactly one cluster.
	total := 0
	for _, c := range rep.Clusters {
		total += c.FailuresCount
		if c.ID == uuid.Nil {
			t.Fatalf("cluster %q not persisted", c.Title)
		}
		if c.Category == "" {
			t.Fatalf("cluster %q has no category", c.Title)
		}
	}
	if total != 5 {
		t.Fatalf("clustered failures = %d, want 5", total)
	}

	var stored int64
	if err := f.db.Model(&types.FailureCluster{}).Count(&stored).Error; err != nil {
		t.Fatalf("count clusters: %v", err)
	}
	if int(stored) != len(rep.Clusters) {
		t.Fatalf("stored clusters = %d, report clusters = %d", stored, len(rep.Clusters))
	}
	var links int64
	if err := f.db.Model(&types.FailureAnalysis{}).Count(&links).Error; err != nil {
		t.Fatalf("count links: %v", err)
	}
	if links != 5 {
		t.Fatalf("failure_analysis rows = %d, want 5", links)
	}
}

func TestBuildReport_CategoryFallback(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, nil)
	run := f.run(t, sub.ID, "CTS", "cts", time.Now().UTC(), 10, 2)
	f.cases(t, []*types.TestCase{
		mediaCase(run.ID, 0, types.TestCaseStatusFail),
		mediaCase(run.ID, 1, types.TestCaseStatusFail),
	})

	rep, err := f.svc.BuildReport(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if len(rep.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(rep.Clusters))
	}
	if got := rep.Clusters[0].Category; got != "Multimedia" {
		t.Fatalf("category = %q, want Multimedia from module prefix map", got)
	}
}

func TestBuildReport_AnalysisOverlayAndSort(t *testing.T) {
	f := newFixture(t)
	analysis := []byte(`{"clusters":[
		{"module":"CtsNetTestCases","failures_count":3,"severity":"low","category":"Networking","summary":"flaky link"},
		{"module":"CtsMediaDecoderTestCases","failures_count":4,"severity":"critical","category":"Multimedia","summary":"codec state machine bug"}
	]}`)
	sub := f.submission(t, analysis)
	run := f.run(t, sub.ID, "CTS", "cts", time.Now().UTC(), 100, 7)
	var cs []*types.TestCase
	for i := 0; i < 4; i++ {
		cs = append(cs, mediaCase(run.ID, i, types.TestCaseStatusFail))
	}
	for i := 0; i < 3; i++ {
		cs = append(cs, netCase(run.ID, i, types.TestCaseStatusFail))
	}
	f.cases(t, cs)

	rep, err := f.svc.BuildReport(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if len(rep.Clusters) != 2 {
		t.Fatalf("clusters = %d, want 2", len(rep.Clusters))
	}
	// critical sorts above low regardless of count.
	if rep.Clusters[0].Severity != "critical" || rep.Clusters[0].Summary != "codec state machine bug" {
		t.Fatalf("first cluster = %+v, want the critical media cluster", rep.Clusters[0])
	}
	if rep.Clusters[1].Severity != "low" {
		t.Fatalf("second cluster severity = %q, want low", rep.Clusters[1].Severity)
	}
}

func TestBuildReport_EmptySubmission(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, nil)

	rep, err := f.svc.BuildReport(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if len(rep.Suites) != 0 || len(rep.Clusters) != 0 {
		t.Fatalf("expected empty report, got %d suites / %d clusters",
			len(rep.Suites), len(rep.Clusters))
	}
	if rep.TotalInitialFailures != 0 || rep.RemainingFailures != 0 {
		t.Fatalf("totals = %d/%d, want zero", rep.TotalInitialFailures, rep.RemainingFailures)
	}
}

func TestBuildReport_UnknownSubmission(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.BuildReport(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error for unknown submission")
	}
}

func TestSortClusters(t *testing.T) {
	clusters := []ClusterReport{
		{Title: "a", Severity: "low", FailuresCount: 50},
		{Title: "b", Severity: "", FailuresCount: 99},
		{Title: "c", Severity: "critical", FailuresCount: 1},
		{Title: "d", Severity: "low", FailuresCount: 80},
	}
	sortClusters(clusters)
	want := []string{"c", "d", "a", "b"}
	for i, w := range want {
		if clusters[i].Title != w {
			t.Fatalf("order[%d] = %q, want %q", i, clusters[i].Title, w)
		}
	}
}
