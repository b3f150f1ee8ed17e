package suite

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/triagehub/compat-backend/internal/types"
)

// Entry is one suite definition in the config file.
type Entry struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	MatchRule   string `yaml:"match_rule"`
	SortOrder   int    `yaml:"sort_order"`
	IsRequired  bool   `yaml:"is_required"`
}

// FileConfig is the operator-editable suite and category configuration.
type FileConfig struct {
	Suites     []Entry           `yaml:"suites"`
	Categories map[string]string `yaml:"categories"`
}

// Defaults returns the built-in suite set used when no config file is
// provided.
func Defaults() []*types.TestSuiteConfig {
	return []*types.TestSuiteConfig{
		{Name: "CTS", DisplayName: "Compatibility Test Suite", MatchRule: types.MatchRuleStandard, SortOrder: 1, IsRequired: true},
		{Name: "CTS-on-GSI", DisplayName: "CTS on Generic System Image", MatchRule: types.MatchRuleGSI, SortOrder: 2, IsRequired: true},
		{Name: "VTS", DisplayName: "Vendor Test Suite", MatchRule: types.MatchRuleStandard, SortOrder: 3, IsRequired: true},
		{Name: "GTS", DisplayName: "GMS Test Suite", MatchRule: types.MatchRuleStandard, SortOrder: 4, IsRequired: false},
		{Name: "STS", DisplayName: "Security Test Suite", MatchRule: types.MatchRuleStandard, SortOrder: 5, IsRequired: false},
	}
}

// LoadFile reads a YAML suite configuration. Entries replace the default
// suite set wholesale; categories are merged over the built-in map by the
// caller.
func LoadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse suite config: %w", err)
	}
	for i := range cfg.Suites {
		e := &cfg.Suites[i]
		if e.Name == "" {
			return nil, fmt.Errorf("suite config entry %d: missing name", i)
		}
		switch e.MatchRule {
		case "", types.MatchRuleStandard:
			e.MatchRule = types.MatchRuleStandard
		case types.MatchRuleGSI:
		default:
			return nil, fmt.Errorf("suite %q: unknown match_rule %q", e.Name, e.MatchRule)
		}
	}
	return &cfg, nil
}

// Rows converts file entries into store rows. An empty entry list falls
// back to Defaults.
func (c *FileConfig) Rows() []*types.TestSuiteConfig {
	if c == nil || len(c.Suites) == 0 {
		return Defaults()
	}
	rows := make([]*types.TestSuiteConfig, 0, len(c.Suites))
	for i, e := range c.Suites {
		display := e.DisplayName
		if display == "" {
			display = e.Name
		}
		order := e.SortOrder
		if order == 0 {
			order = i + 1
		}
		rows = append(rows, &types.TestSuiteConfig{
			Name:        e.Name,
			DisplayName: display,
			MatchRule:   e.MatchRule,
			SortOrder:   order,
			IsRequired:  e.IsRequired,
		})
	}
	return rows
}
