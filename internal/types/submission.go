package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SubmissionStatusAnalyzing = "analyzing"
	SubmissionStatusReady     = "ready"
	SubmissionStatusPublished = "published"
)

const (
	AnalysisStatusNone      = ""
	AnalysisStatusQueued    = "queued"
	AnalysisStatusRunning   = "running"
	AnalysisStatusCompleted = "completed"
	AnalysisStatusFailed    = "failed"
)

// Submission groups every run of one device build, including its GSI
// variant, under a single fingerprint.
type Submission struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string         `gorm:"column:name;not null" json:"name"`
	TargetFingerprint string         `gorm:"column:target_fingerprint;not null;index" json:"target_fingerprint"`
	Brand             string         `gorm:"column:brand" json:"brand"`
	Product           string         `gorm:"column:product" json:"product"`
	Device            string         `gorm:"column:device" json:"device"`
	Status            string         `gorm:"column:status;not null;default:'analyzing'" json:"status"`
	IsLocked          bool           `gorm:"column:is_locked;not null;default:false" json:"is_locked"`
	AnalysisStatus    string         `gorm:"column:analysis_status" json:"analysis_status"`
	AnalysisResult    datatypes.JSON `gorm:"column:analysis_result;type:jsonb" json:"analysis_result,omitempty"`
	TestRuns          []*TestRun     `gorm:"foreignKey:SubmissionID;references:ID" json:"test_runs,omitempty"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
}

func (Submission) TableName() string { return "submission" }
