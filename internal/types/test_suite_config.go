package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	MatchRuleStandard = "standard"
	MatchRuleGSI      = "gsi"
)

// TestSuiteConfig is one configured suite (CTS, CTS-on-GSI, VTS, GTS,
// STS). Seeded at bootstrap; static afterwards.
type TestSuiteConfig struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null;uniqueIndex" json:"name"`
	DisplayName string    `gorm:"column:display_name;not null" json:"display_name"`
	MatchRule   string    `gorm:"column:match_rule;not null;default:'standard'" json:"match_rule"`
	SortOrder   int       `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	IsRequired  bool      `gorm:"column:is_required;not null;default:false" json:"is_required"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (TestSuiteConfig) TableName() string { return "test_suite_config" }
