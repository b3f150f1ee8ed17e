package fingerprint

import (
	"testing"

	"github.com/triagehub/compat-backend/internal/types"
)

func TestParse_Canonical(t *testing.T) {
	p := Parse("Google/sdk_gphone64_arm64/emu64a:14/UE1A.230829.036/10643579:userdebug/dev-keys")
	if !p.MatchOK {
		t.Fatalf("expected MatchOK=true")
	}
	if p.Brand != "Google" || p.Product != "sdk_gphone64_arm64" || p.Device != "emu64a" {
		t.Fatalf("unexpected prefix fields: %q / %q / %q", p.Brand, p.Product, p.Device)
	}
	if p.Release != "14" || p.BuildID != "UE1A.230829.036" {
		t.Fatalf("unexpected release/id: %q / %q", p.Release, p.BuildID)
	}
	if p.Suffix != "/10643579:userdebug/dev-keys" {
		t.Fatalf("unexpected suffix: %q", p.Suffix)
	}
	if got := p.SuffixShort(); got != "userdebug" {
		t.Fatalf("SuffixShort = %q, want userdebug", got)
	}
}

func TestParse_ShortPrefix(t *testing.T) {
	p := Parse("generic:13/TP1A/999:user/release")
	if !p.MatchOK {
		t.Fatalf("expected MatchOK=true")
	}
	if p.Brand != "generic" || p.Product != "" || p.Device != "" {
		t.Fatalf("unexpected prefix fields: %q / %q / %q", p.Brand, p.Product, p.Device)
	}
	if got := p.SuffixShort(); got != "user" {
		t.Fatalf("SuffixShort = %q, want user", got)
	}
}

func TestParse_NonCanonical(t *testing.T) {
	for _, fp := range []string{"", "Unknown", "Pending...", "no-colon-here", "a:b"} {
		p := Parse(fp)
		if p.MatchOK {
			t.Errorf("Parse(%q): expected MatchOK=false", fp)
		}
		if p.Brand != "" || p.Suffix != "" {
			t.Errorf("Parse(%q): expected zero fields, got %+v", fp, p)
		}
	}
}

func TestIsSystemReplace(t *testing.T) {
	cases := []struct {
		name  string
		suite string
		plan  string
		want  bool
	}{
		{"cts gsi plan", "CTS", "cts-on-gsi", true},
		{"cts gsi plan mixed case", "CTS", "CTS-ON-GSI", true},
		{"plain cts", "CTS", "cts", false},
		{"vts", "VTS", "vts", true},
		{"vts on gsi", "VTS", "vts-on-gsi", true},
		{"gts", "GTS", "gts", false},
		{"sts", "STS", "sts", false},
	}
	for _, tc := range cases {
		run := &types.TestRun{TestSuiteName: tc.suite, SuitePlan: tc.plan}
		if got := IsSystemReplace(run); got != tc.want {
			t.Errorf("%s: IsSystemReplace = %v, want %v", tc.name, got, tc.want)
		}
	}
	if IsSystemReplace(nil) {
		t.Error("nil run should not be system-replace")
	}
}
