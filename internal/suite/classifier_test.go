package suite

import (
	"testing"

	"github.com/triagehub/compat-backend/internal/types"
)

var (
	ctsCfg    = &types.TestSuiteConfig{Name: "CTS", MatchRule: types.MatchRuleStandard}
	ctsGSICfg = &types.TestSuiteConfig{Name: "CTS-on-GSI", MatchRule: types.MatchRuleGSI}
	vtsCfg    = &types.TestSuiteConfig{Name: "VTS", MatchRule: types.MatchRuleStandard}
	gtsCfg    = &types.TestSuiteConfig{Name: "GTS", MatchRule: types.MatchRuleStandard}
	stsCfg    = &types.TestSuiteConfig{Name: "STS", MatchRule: types.MatchRuleStandard}
)

func allConfigs() []*types.TestSuiteConfig {
	return []*types.TestSuiteConfig{ctsCfg, ctsGSICfg, vtsCfg, gtsCfg, stsCfg}
}

func TestMatch_DecisionTable(t *testing.T) {
	cases := []struct {
		name string
		run  *types.TestRun
		want *types.TestSuiteConfig
	}{
		{
			name: "plain cts",
			run:  &types.TestRun{TestSuiteName: "CTS", SuitePlan: "cts"},
			want: ctsCfg,
		},
		{
			name: "cts-on-gsi plan",
			run:  &types.TestRun{TestSuiteName: "CTS", SuitePlan: "cts-on-gsi"},
			want: ctsGSICfg,
		},
		{
			name: "gsi product",
			run:  &types.TestRun{TestSuiteName: "CTS", SuitePlan: "cts", BuildProduct: "gsi_arm64"},
			want: ctsGSICfg,
		},
		{
			name: "gsi model",
			run:  &types.TestRun{TestSuiteName: "CTS", SuitePlan: "cts", BuildModel: "AOSP on GSI"},
			want: ctsGSICfg,
		},
		{
			name: "vts",
			run:  &types.TestRun{TestSuiteName: "VTS", SuitePlan: "vts"},
			want: vtsCfg,
		},
		{
			name: "gts lowercase name",
			run:  &types.TestRun{TestSuiteName: "gts", SuitePlan: "gts"},
			want: gtsCfg,
		},
		{
			name: "sts",
			run:  &types.TestRun{TestSuiteName: "STS", SuitePlan: "sts"},
			want: stsCfg,
		},
	}
	for _, tc := range cases {
		var matched []*types.TestSuiteConfig
		for _, cfg := range allConfigs() {
			if Match(tc.run, cfg, "") {
				matched = append(matched, cfg)
			}
		}
		if len(matched) != 1 || matched[0] != tc.want {
			names := make([]string, 0, len(matched))
			for _, m := range matched {
				names = append(names, m.Name)
			}
			t.Errorf("%s: matched %v, want exactly [%s]", tc.name, names, tc.want.Name)
		}
	}
}

// The target fingerprint must not influence classification, even when the
// target itself looks like a GSI build.
func TestMatch_IgnoresTargetFingerprint(t *testing.T) {
	run := &types.TestRun{TestSuiteName: "CTS", SuitePlan: "cts"}
	gsiTarget := "Generic/gsi_arm64/generic:13/TP1A/999:user/release"
	if !Match(run, ctsCfg, gsiTarget) {
		t.Error("plain CTS run must stay CTS regardless of target fingerprint")
	}
	if Match(run, ctsGSICfg, gsiTarget) {
		t.Error("plain CTS run must not become CTS-on-GSI via target fingerprint")
	}
}
