package types

import (
	"time"

	"github.com/google/uuid"
)

// FailureAnalysis links a persisted test case to its cluster. One per test
// case; cascade-deleted with the test case. Clusters that lose their last
// referrer are removed by the orphan GC.
type FailureAnalysis struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TestCaseID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"test_case_id"`
	TestCase   *TestCase       `gorm:"constraint:OnDelete:CASCADE;foreignKey:TestCaseID;references:ID" json:"test_case,omitempty"`
	ClusterID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"cluster_id"`
	Cluster    *FailureCluster `gorm:"constraint:OnDelete:CASCADE;foreignKey:ClusterID;references:ID" json:"cluster,omitempty"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"not null" json:"updated_at"`
}

func (FailureAnalysis) TableName() string { return "failure_analysis" }
