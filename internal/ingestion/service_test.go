package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/apperr"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/repos"
	"github.com/triagehub/compat-backend/internal/submission"
	"github.com/triagehub/compat-backend/internal/testdb"
	"github.com/triagehub/compat-backend/internal/types"
)

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testdb.Open(t)
	log := logger.NewNop()
	subRepo := repos.NewSubmissionRepo(db, log)
	runRepo := repos.NewTestRunRepo(db, log)
	tcRepo := repos.NewTestCaseRepo(db, log)
	clRepo := repos.NewFailureClusterRepo(db, log)
	matcher := submission.NewMatcher(db, log, subRepo, runRepo)
	svc := NewService(db, log, subRepo, runRepo, tcRepo, clRepo, matcher, nil)
	return svc, db
}

func input(fp, suite, plan string, start time.Time) *RunInput {
	return &RunInput{
		Metadata: Metadata{
			TestSuiteName:     suite,
			SuitePlan:         plan,
			DeviceFingerprint: fp,
			StartTime:         start,
			EndTime:           start.Add(2 * time.Hour),
		},
		Stats: Stats{TotalTests: 100, PassedTests: 100},
	}
}

func failRecord(module, class, method string) CaseRecord {
	return CaseRecord{
		ModuleName:   module,
		ModuleABI:    "arm64-v8a",
		ClassName:    class,
		MethodName:   method,
		Status:       types.TestCaseStatusFail,
		ErrorMessage: "junit.framework.AssertionFailedError: expected true",
	}
}

func passRecord(module, class, method string) CaseRecord {
	return CaseRecord{
		ModuleName: module,
		ModuleABI:  "arm64-v8a",
		ClassName:  class,
		MethodName: method,
	}
}

const (
	deviceFP = "Acme/tab10/t10:13/TP1A/999:user/release"
	gsiFP    = "Generic/gsi_arm64/generic:13/TP1A/999:user/release"
)

func TestIngestRun_GroupsByFingerprint(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	_, s1, err := svc.IngestRun(ctx, input(deviceFP, "CTS", "cts", t0))
	if err != nil {
		t.Fatalf("ingest R1: %v", err)
	}
	r2, s2, err := svc.IngestRun(ctx, input(deviceFP, "CTS", "retry", t0.Add(3*time.Hour)))
	if err != nil {
		t.Fatalf("ingest R2: %v", err)
	}
	if s2.ID != s1.ID {
		t.Fatalf("R2 submission = %s, want %s", s2.ID, s1.ID)
	}
	if r2.SubmissionID == nil || *r2.SubmissionID != s1.ID {
		t.Fatalf("R2.submission_id = %v, want %s", r2.SubmissionID, s1.ID)
	}

	// A new incremental is a different build and a different submission.
	newBuild := "Acme/tab10/t10:13/TP1A/1000:user/release"
	_, s3, err := svc.IngestRun(ctx, input(newBuild, "CTS", "cts", t0.Add(6*time.Hour)))
	if err != nil {
		t.Fatalf("ingest R3: %v", err)
	}
	if s3.ID == s1.ID {
		t.Fatal("new incremental must not join the existing submission")
	}
}

func TestIngestRun_GSIRunJoinsBaseSubmission(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	_, base, err := svc.IngestRun(ctx, input(deviceFP, "CTS", "cts", t0))
	if err != nil {
		t.Fatalf("ingest base: %v", err)
	}
	_, gsiSub, err := svc.IngestRun(ctx, input(gsiFP, "CTS", "cts-on-gsi", t0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("ingest gsi: %v", err)
	}
	if gsiSub.ID != base.ID {
		t.Fatalf("gsi run submission = %s, want base %s", gsiSub.ID, base.ID)
	}
}

func TestIngestRun_DuplicateUpload(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	first, _, err := svc.IngestRun(ctx, input(deviceFP, "CTS", "cts", t0))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	dup, _, err := svc.IngestRun(ctx, input(deviceFP, "CTS", "cts", t0))
	if !errors.Is(err, apperr.ErrDuplicateRun) {
		t.Fatalf("err = %v, want ErrDuplicateRun", err)
	}
	if dup == nil || dup.ID != first.ID {
		t.Fatalf("duplicate ingest returned %v, want existing run %s", dup, first.ID)
	}
	var count int64
	if err := db.Model(&types.TestRun{}).Count(&count).Error; err != nil {
		t.Fatalf("count runs: %v", err)
	}
	if count != 1 {
		t.Fatalf("runs = %d, want 1", count)
	}
}

func TestIngestRun_InvalidInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := map[string]*RunInput{
		"nil input":     nil,
		"no suite name": input(deviceFP, "", "cts", time.Now()),
		"no fingerprint": {
			Metadata: Metadata{TestSuiteName: "CTS", StartTime: time.Now()},
		},
		"no start time": input(deviceFP, "CTS", "cts", time.Time{}),
	}
	for name, in := range cases {
		if _, _, err := svc.IngestRun(ctx, in); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("%s: err = %v, want ErrInvalidInput", name, err)
		}
	}
}

func TestIngestRun_RecoveryPassesFiltered(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	in1 := input(deviceFP, "CTS", "cts", t0)
	in1.Failures = []CaseRecord{
		failRecord("CtsNetTestCases", "android.net.cts.DnsTest", "testDnsWorks"),
		failRecord("CtsNetTestCases", "android.net.cts.DnsTest", "testDnsV6"),
	}
	if _, _, err := svc.IngestRun(ctx, in1); err != nil {
		t.Fatalf("ingest R1: %v", err)
	}

	in2 := input(deviceFP, "CTS", "retry", t0.Add(3*time.Hour))
	in2.Failures = []CaseRecord{
		failRecord("CtsNetTestCases", "android.net.cts.DnsTest", "testDnsV6"),
	}
	in2.Passes = []CaseRecord{
		// Recovers an earlier failure: persisted.
		passRecord("CtsNetTestCases", "android.net.cts.DnsTest", "testDnsWorks"),
		// Duplicate of the same pass in one file: dropped.
		passRecord("CtsNetTestCases", "android.net.cts.DnsTest", "testDnsWorks"),
		// Never failed before: rollup-only, not persisted.
		passRecord("CtsNetTestCases", "android.net.cts.DnsTest", "testDnsCache"),
		// Also failing in this very run: the fail record wins.
		passRecord("CtsNetTestCases", "android.net.cts.DnsTest", "testDnsV6"),
	}
	r2, _, err := svc.IngestRun(ctx, in2)
	if err != nil {
		t.Fatalf("ingest R2: %v", err)
	}

	var rows []*types.TestCase
	if err := db.Where("test_run_id = ?", r2.ID).Order("status, method_name").Find(&rows).Error; err != nil {
		t.Fatalf("load R2 cases: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("R2 persisted cases = %d, want 2 (one fail, one recovery pass)", len(rows))
	}
	if rows[0].Status != types.TestCaseStatusFail || rows[0].MethodName != "testDnsV6" {
		t.Fatalf("unexpected fail row %+v", rows[0])
	}
	if rows[1].Status != types.TestCaseStatusPass || rows[1].MethodName != "testDnsWorks" {
		t.Fatalf("unexpected pass row %+v", rows[1])
	}
}

func TestIngestRun_DedupesFailuresWithinFile(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	in := input(deviceFP, "CTS", "cts", time.Now().UTC())
	rec := failRecord("CtsViewTestCases", "android.view.cts.ViewTest", "testFocus")
	in.Failures = []CaseRecord{rec, rec, rec}
	run, _, err := svc.IngestRun(ctx, in)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var count int64
	if err := db.Model(&types.TestCase{}).Where("test_run_id = ?", run.ID).Count(&count).Error; err != nil {
		t.Fatalf("count cases: %v", err)
	}
	if count != 1 {
		t.Fatalf("cases = %d, want 1", count)
	}
}

func TestIngestRun_UnusableFingerprintLeftUnassigned(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	run, sub, err := svc.IngestRun(ctx, input("unknown", "CTS", "cts", time.Now().UTC()))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sub != nil {
		t.Fatalf("submission = %v, want nil for placeholder fingerprint", sub)
	}
	if run.SubmissionID != nil {
		t.Fatalf("run.submission_id = %v, want nil", run.SubmissionID)
	}
}

func TestDeleteSubmission_Cascades(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	in1 := input(deviceFP, "CTS", "cts", t0)
	for i := 0; i < 25; i++ {
		in1.Failures = append(in1.Failures,
			failRecord("CtsMediaTestCases", "android.media.cts.MediaTest", fmt.Sprintf("test%02d", i)))
	}
	_, sub, err := svc.IngestRun(ctx, in1)
	if err != nil {
		t.Fatalf("ingest R1: %v", err)
	}
	in2 := input(deviceFP, "CTS", "retry", t0.Add(3*time.Hour))
	for i := 0; i < 25; i++ {
		in2.Failures = append(in2.Failures,
			failRecord("CtsMediaTestCases", "android.media.cts.MediaTest", fmt.Sprintf("test%02d", i)))
	}
	if _, _, err := svc.IngestRun(ctx, in2); err != nil {
		t.Fatalf("ingest R2: %v", err)
	}

	// Simulate a prior report pass: clusters linked to this submission's
	// cases and to nothing else.
	clRepo := repos.NewFailureClusterRepo(db, logger.NewNop())
	var cases []*types.TestCase
	if err := db.Find(&cases).Error; err != nil {
		t.Fatalf("load cases: %v", err)
	}
	for i := 0; i < 4; i++ {
		cl := &types.FailureCluster{Signature: fmt.Sprintf("sig-%d", i), Description: "cluster"}
		if err := clRepo.UpsertBySignature(ctx, nil, cl); err != nil {
			t.Fatalf("upsert cluster: %v", err)
		}
		var ids []uuid.UUID
		for j := i; j < len(cases); j += 4 {
			ids = append(ids, cases[j].ID)
		}
		if err := clRepo.LinkCases(ctx, nil, cl.ID, ids); err != nil {
			t.Fatalf("link cases: %v", err)
		}
	}

	if err := svc.DeleteSubmission(ctx, sub.ID); err != nil {
		t.Fatalf("delete submission: %v", err)
	}

	counts := map[string]interface{}{
		"submission":       &types.Submission{},
		"test_run":         &types.TestRun{},
		"test_case":        &types.TestCase{},
		"failure_analysis": &types.FailureAnalysis{},
		"failure_cluster":  &types.FailureCluster{},
	}
	for table, model := range counts {
		var n int64
		if err := db.Model(model).Count(&n).Error; err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("%s rows = %d, want 0 after cascade", table, n)
		}
	}
}

func TestDeleteSubmission_NotFound(t *testing.T) {
	svc, _ := newService(t)
	if err := svc.DeleteSubmission(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
