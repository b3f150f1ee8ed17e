package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	TestRunStatusPending    = "pending"
	TestRunStatusProcessing = "processing"
	TestRunStatusCompleted  = "completed"
	TestRunStatusFailed     = "failed"
)

// TestRun is one uploaded result file. SubmissionID stays null until the
// matcher attaches the run; runs are read-only afterwards except for
// status transitions.
type TestRun struct {
	ID                uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	SubmissionID      *uuid.UUID  `gorm:"type:uuid;index" json:"submission_id,omitempty"`
	Submission        *Submission `gorm:"constraint:OnDelete:CASCADE;foreignKey:SubmissionID;references:ID" json:"submission,omitempty"`
	TestSuiteName     string      `gorm:"column:test_suite_name;not null" json:"test_suite_name"`
	SuitePlan         string      `gorm:"column:suite_plan" json:"suite_plan"`
	SuiteVersion      string      `gorm:"column:suite_version" json:"suite_version"`
	BuildBrand        string      `gorm:"column:build_brand" json:"build_brand"`
	BuildProduct      string      `gorm:"column:build_product" json:"build_product"`
	BuildModel        string      `gorm:"column:build_model" json:"build_model"`
	BuildDevice       string      `gorm:"column:build_device" json:"build_device"`
	DeviceFingerprint string      `gorm:"column:device_fingerprint;index" json:"device_fingerprint"`
	SecurityPatch     string      `gorm:"column:security_patch" json:"security_patch"`
	AndroidVersion    string      `gorm:"column:android_version" json:"android_version"`
	BuildABIs         string      `gorm:"column:build_abis" json:"build_abis"`
	StartTime         time.Time   `gorm:"column:start_time;index" json:"start_time"`
	EndTime           time.Time   `gorm:"column:end_time" json:"end_time"`
	TotalTests        int         `gorm:"column:total_tests;not null;default:0" json:"total_tests"`
	PassedTests       int         `gorm:"column:passed_tests;not null;default:0" json:"passed_tests"`
	FailedTests       int         `gorm:"column:failed_tests;not null;default:0" json:"failed_tests"`
	IgnoredTests      int         `gorm:"column:ignored_tests;not null;default:0" json:"ignored_tests"`
	Status            string      `gorm:"column:status;not null;default:'pending'" json:"status"`
	TestCases         []*TestCase `gorm:"foreignKey:TestRunID;references:ID" json:"test_cases,omitempty"`
	CreatedAt         time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"not null" json:"updated_at"`
}

func (TestRun) TableName() string { return "test_run" }
