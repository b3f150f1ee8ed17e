package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	AnalysisJobStatusQueued    = "queued"
	AnalysisJobStatusRunning   = "running"
	AnalysisJobStatusCompleted = "completed"
	AnalysisJobStatusFailed    = "failed"
)

// AnalysisJob is one queued LLM analysis request for a submission,
// claimed and executed by the background worker.
type AnalysisJob struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	SubmissionID uuid.UUID   `gorm:"type:uuid;not null;index" json:"submission_id"`
	Submission   *Submission `gorm:"constraint:OnDelete:CASCADE;foreignKey:SubmissionID;references:ID" json:"submission,omitempty"`
	JobType      string      `gorm:"column:job_type;not null;default:'submission_analysis'" json:"job_type"`
	Status       string      `gorm:"column:status;not null;default:'queued';index" json:"status"`
	Attempts     int         `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError    string      `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	RunAfter     time.Time   `gorm:"column:run_after;not null" json:"run_after"`
	StartedAt    *time.Time  `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time  `gorm:"column:finished_at" json:"finished_at,omitempty"`
	HeartbeatAt  *time.Time  `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	CreatedAt    time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"not null" json:"updated_at"`
}

func (AnalysisJob) TableName() string { return "analysis_job" }
