package types

import (
	"time"

	"github.com/google/uuid"
)

// FailureCluster is one durable equivalence class of persistent failures.
// Identity across re-clustering is the signature, never the volatile
// in-memory label.
type FailureCluster struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Signature           string    `gorm:"column:signature;not null;uniqueIndex" json:"signature"`
	Description         string    `gorm:"column:description;type:text" json:"description"`
	Summary             string    `gorm:"column:summary;type:text" json:"summary,omitempty"`
	Severity            string    `gorm:"column:severity" json:"severity,omitempty"`
	Category            string    `gorm:"column:category" json:"category,omitempty"`
	Confidence          float64   `gorm:"column:confidence;default:0" json:"confidence,omitempty"`
	SuggestedAssignment string    `gorm:"column:suggested_assignment" json:"suggested_assignment,omitempty"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

func (FailureCluster) TableName() string { return "failure_cluster" }
