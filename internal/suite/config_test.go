package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/triagehub/compat-backend/internal/types"
)

func TestDefaults(t *testing.T) {
	rows := Defaults()
	if len(rows) != 5 {
		t.Fatalf("default suites = %d, want 5", len(rows))
	}
	byName := map[string]*types.TestSuiteConfig{}
	for _, r := range rows {
		byName[r.Name] = r
	}
	gsi, ok := byName["CTS-on-GSI"]
	if !ok || gsi.MatchRule != types.MatchRuleGSI {
		t.Fatalf("CTS-on-GSI config = %+v", gsi)
	}
	for _, name := range []string{"CTS", "VTS", "GTS", "STS"} {
		if cfg, ok := byName[name]; !ok || cfg.MatchRule != types.MatchRuleStandard {
			t.Fatalf("%s config = %+v", name, cfg)
		}
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suites.yaml")
	doc := `suites:
  - name: CTS
    display_name: Compatibility Test Suite
    match_rule: standard
    sort_order: 1
    is_required: true
  - name: CTS-on-GSI
    match_rule: gsi
categories:
  CtsCamera: Camera
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	rows := cfg.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[1].Name != "CTS-on-GSI" || rows[1].MatchRule != types.MatchRuleGSI {
		t.Fatalf("gsi row = %+v", rows[1])
	}
	if rows[1].DisplayName != "CTS-on-GSI" {
		t.Fatalf("display name fallback = %q", rows[1].DisplayName)
	}
	if rows[1].SortOrder != 2 {
		t.Fatalf("sort order fallback = %d", rows[1].SortOrder)
	}
	if cfg.Categories["CtsCamera"] != "Camera" {
		t.Fatalf("categories = %v", cfg.Categories)
	}
}

func TestLoadFile_BadRule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suites.yaml")
	if err := os.WriteFile(path, []byte("suites:\n  - name: CTS\n    match_rule: fuzzy\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unknown match_rule")
	}
}

func TestRows_EmptyFallsBackToDefaults(t *testing.T) {
	var cfg *FileConfig
	if got := len(cfg.Rows()); got != 5 {
		t.Fatalf("rows = %d, want defaults", got)
	}
}
