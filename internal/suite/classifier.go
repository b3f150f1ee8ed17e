package suite

import (
	"strings"

	"github.com/triagehub/compat-backend/internal/types"
)

// Match decides whether run belongs to the configured suite. Pure on
// (test_suite_name, suite_plan, build_product, build_model).
//
// targetFP is accepted for interface symmetry but deliberately unused:
// matching on the submission's target fingerprint misclassified runs
// whenever the target device itself was a GSI build.
func Match(run *types.TestRun, cfg *types.TestSuiteConfig, targetFP string) bool {
	_ = targetFP
	if run == nil || cfg == nil {
		return false
	}
	name := strings.ToUpper(run.TestSuiteName)
	switch cfg.MatchRule {
	case types.MatchRuleGSI:
		return isGSIRun(run, name)
	default:
		if strings.EqualFold(cfg.Name, "CTS") {
			return strings.Contains(name, "CTS") && !isGSIRun(run, name)
		}
		return strings.Contains(name, strings.ToUpper(cfg.Name))
	}
}

// isGSIRun is the CTS-on-GSI predicate: the raw suite name still says CTS,
// so the plan and the product/model are the disambiguating signals.
func isGSIRun(run *types.TestRun, upperName string) bool {
	if !strings.Contains(upperName, "CTS") {
		return false
	}
	if strings.Contains(strings.ToLower(run.SuitePlan), "cts-on-gsi") {
		return true
	}
	if strings.Contains(strings.ToLower(run.BuildProduct), "gsi") {
		return true
	}
	return strings.Contains(strings.ToLower(run.BuildModel), "gsi")
}
