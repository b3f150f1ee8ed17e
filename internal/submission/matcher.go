package submission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/fingerprint"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/repos"
	"github.com/triagehub/compat-backend/internal/types"
)

// candidateScanLimit caps how many recently-updated candidates the
// system-replace match inspects.
const candidateScanLimit = 20

// Matcher attaches an ingested run to the submission it belongs to,
// creating one when nothing matches.
type Matcher struct {
	db             *gorm.DB
	log            *logger.Logger
	submissionRepo repos.SubmissionRepo
	testRunRepo    repos.TestRunRepo
}

func NewMatcher(db *gorm.DB, baseLog *logger.Logger, submissionRepo repos.SubmissionRepo, testRunRepo repos.TestRunRepo) *Matcher {
	return &Matcher{
		db:             db,
		log:            baseLog.With("component", "SubmissionMatcher"),
		submissionRepo: submissionRepo,
		testRunRepo:    testRunRepo,
	}
}

// Attach resolves the submission for run and links the run to it inside a
// single transaction. Returns nil (no error) when the run's fingerprint is
// not usable yet; the run stays unassigned and can be reattempted.
// Idempotent: a run that is already linked keeps its submission.
func (m *Matcher) Attach(ctx context.Context, tx *gorm.DB, run *types.TestRun) (*types.Submission, error) {
	transaction := tx
	if transaction == nil {
		transaction = m.db
	}

	if run.SubmissionID != nil {
		return m.submissionRepo.GetByID(ctx, transaction, *run.SubmissionID)
	}

	fp := strings.TrimSpace(run.DeviceFingerprint)
	if !usableFingerprint(fp) {
		m.log.Debug("Run has no usable fingerprint yet, leaving unassigned", "run_id", run.ID, "fingerprint", fp)
		return nil, nil
	}

	var sub *types.Submission
	err := transaction.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		found, err := m.resolve(ctx, inner, run, fp)
		if err != nil {
			return err
		}
		if err := m.testRunRepo.LinkToSubmission(ctx, inner, run.ID, found.ID); err != nil {
			return err
		}
		// The submission's updated_at becomes the new run's ingestion time
		// so recency ordering in later matches prefers it.
		if err := m.submissionRepo.UpdateFields(ctx, inner, found.ID, map[string]interface{}{
			"updated_at": time.Now().UTC(),
		}); err != nil {
			return err
		}
		sub = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	subID := sub.ID
	run.SubmissionID = &subID
	return sub, nil
}

func (m *Matcher) resolve(ctx context.Context, tx *gorm.DB, run *types.TestRun, fp string) (*types.Submission, error) {
	// Exact fingerprint match first.
	if sub, err := m.submissionRepo.FindByFingerprint(ctx, tx, fp); err != nil {
		return nil, err
	} else if sub != nil {
		m.log.Debug("Matched submission by exact fingerprint", "run_id", run.ID, "submission_id", sub.ID)
		return sub, nil
	}

	// System-replace runs carry a generic prefix; match on the suffix
	// against submissions sharing the run's prefix family.
	if fingerprint.IsSystemReplace(run) {
		if sub, err := m.matchBySuffix(ctx, tx, run, fp); err != nil {
			return nil, err
		} else if sub != nil {
			return sub, nil
		}
	}

	sub := m.newSubmission(run, fp)
	if err := m.submissionRepo.Create(ctx, tx, sub); err != nil {
		return nil, err
	}
	m.log.Info("Created submission for run", "run_id", run.ID, "submission_id", sub.ID, "fingerprint", fp)
	return sub, nil
}

func (m *Matcher) matchBySuffix(ctx context.Context, tx *gorm.DB, run *types.TestRun, fp string) (*types.Submission, error) {
	parsed := fingerprint.Parse(fp)
	if !parsed.MatchOK {
		return nil, nil
	}
	// Everything after the device prefix survives a system image swap.
	tail := ":" + parsed.Release + "/" + parsed.BuildID + parsed.Suffix
	candidates, err := m.submissionRepo.FindByFingerprintTail(ctx, tx, tail, candidateScanLimit)
	if err != nil {
		return nil, err
	}
	for _, cand := range candidates {
		cp := fingerprint.Parse(cand.TargetFingerprint)
		if cp.MatchOK && cp.Release == parsed.Release && cp.BuildID == parsed.BuildID && cp.Suffix == parsed.Suffix {
			m.log.Debug("Matched submission by system-replace suffix", "run_id", run.ID, "submission_id", cand.ID)
			return cand, nil
		}
	}
	return nil, nil
}

func (m *Matcher) newSubmission(run *types.TestRun, fp string) *types.Submission {
	parsed := fingerprint.Parse(fp)

	brand := firstNonEmpty(parsed.Brand, run.BuildBrand, "Unknown")
	model := firstNonEmpty(parsed.Product, run.BuildModel, run.BuildProduct, "Device")
	device := firstNonEmpty(parsed.Device, run.BuildDevice, "Device")

	name := fmt.Sprintf("%s %s (%s)", brand, model, device)
	if short := parsed.SuffixShort(); short != "" {
		name = fmt.Sprintf("%s · %s", name, short)
	}

	return &types.Submission{
		ID:                uuid.New(),
		Name:              name,
		TargetFingerprint: fp,
		Brand:             brand,
		Product:           model,
		Device:            device,
		Status:            types.SubmissionStatusAnalyzing,
		IsLocked:          false,
	}
}

// usableFingerprint rejects placeholders some harness versions emit while
// the device is still being queried.
func usableFingerprint(fp string) bool {
	if fp == "" || strings.EqualFold(fp, "unknown") {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(fp), "pending")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
