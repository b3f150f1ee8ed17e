package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	TestCaseStatusPass              = "pass"
	TestCaseStatusFail              = "fail"
	TestCaseStatusIgnored           = "ignored"
	TestCaseStatusAssumptionFailure = "assumption_failure"
)

// TestCase holds one non-pass result, or an explicit-recovery pass record
// for a key that failed in an earlier run of the same submission. Pure
// always-passing cases are never stored; their counts live in TestRun
// rollups only.
type TestCase struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TestRunID    uuid.UUID `gorm:"type:uuid;not null;index" json:"test_run_id"`
	TestRun      *TestRun  `gorm:"constraint:OnDelete:CASCADE;foreignKey:TestRunID;references:ID" json:"test_run,omitempty"`
	ModuleName   string    `gorm:"column:module_name;not null;index" json:"module_name"`
	ModuleABI    string    `gorm:"column:module_abi" json:"module_abi"`
	ClassName    string    `gorm:"column:class_name;not null" json:"class_name"`
	MethodName   string    `gorm:"column:method_name;not null" json:"method_name"`
	Status       string    `gorm:"column:status;not null" json:"status"`
	ErrorMessage string    `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	StackTrace   string    `gorm:"column:stack_trace;type:text" json:"stack_trace,omitempty"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (TestCase) TableName() string { return "test_case" }

// Key identifies a test case across runs of one submission.
func (c *TestCase) Key() TestCaseKey {
	return TestCaseKey{
		ModuleName: c.ModuleName,
		ModuleABI:  c.ModuleABI,
		ClassName:  c.ClassName,
		MethodName: c.MethodName,
	}
}

// TestCaseKey is the cross-run identity tuple used by the merge engine.
type TestCaseKey struct {
	ModuleName string `json:"module_name"`
	ModuleABI  string `json:"module_abi"`
	ClassName  string `json:"class_name"`
	MethodName string `json:"method_name"`
}

func (k TestCaseKey) String() string {
	return k.ModuleName + "#" + k.ModuleABI + "#" + k.ClassName + "#" + k.MethodName
}
