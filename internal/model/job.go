package model

import (
	"time"
)

// JobState represents the current lifecycle state of an upload job.
type JobState string

const (
	JobStatePending       JobState = "pending"
	JobStateDetecting     JobState = "detecting"
	JobStateExtracting    JobState = "extracting"
	JobStateNormalizing   JobState = "normalizing_validating"
	JobStateDeduplicating JobState = "deduplicating"
	JobStateInserting     JobState = "inserting"
	JobStateCompleted     JobState = "completed"
	JobStatePartial       JobState = "partial"
	JobStateFailed        JobState = "failed"
)

// Terminal reports whether the state is final. Terminal jobs are never
// mutated again except by an explicit whole-job retry from pending.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStatePartial, JobStateFailed:
		return true
	default:
		return false
	}
}

// UploadMode controls how a job's rows interact with existing data.
type UploadMode string

const (
	// ModeAppend adds rows, skipping exact natural-key duplicates.
	ModeAppend UploadMode = "append"
	// ModeReplace supersedes prior rows for the same reseller scope.
	ModeReplace UploadMode = "replace"
)

// ParseMode validates a mode string.
func ParseMode(s string) (UploadMode, bool) {
	switch UploadMode(s) {
	case ModeAppend:
		return ModeAppend, true
	case ModeReplace:
		return ModeReplace, true
	default:
		return "", false
	}
}

// Counts holds per-job row counters, persisted on every stage transition so
// a polling caller sees live progress.
type Counts struct {
	Total     int `json:"total"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Duplicate int `json:"duplicate"`
	Inserted  int `json:"inserted"`
}

// UploadJob is one user-submitted file working its way through the pipeline.
// Only the orchestrator mutates it after creation.
type UploadJob struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UploaderID string     `json:"uploader_id"`
	Filename   string     `json:"filename"`
	FileRef    string     `json:"file_ref"`
	Mode       UploadMode `json:"mode"`
	State      JobState   `json:"state"`

	FormatID      string  `json:"format_id,omitempty"`
	FormatVersion string  `json:"format_version,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`

	Counts       Counts     `json:"counts"`
	ErrorSummary []RowError `json:"error_summary,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Attempts     int        `json:"attempts"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	TenantID string   `json:"tenant_id,omitempty"`
	State    JobState `json:"state,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
}
