package models

import "time"

type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Terminal reports whether the status ends the execution lifecycle.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed
}

// FailureKind classifies why an execution ended in ExecutionFailed.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureCommunication FailureKind = "communication"
	FailureAgent         FailureKind = "agent"
	FailureOrphaned      FailureKind = "orphaned"
)

type Execution struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id"`
	TaskName      string          `json:"task_name,omitempty"`
	AgentID       string          `json:"agent_id"`
	AgentHostname string          `json:"agent_hostname,omitempty"`
	Status        ExecutionStatus `json:"status"`
	FailureKind   FailureKind     `json:"failure_kind,omitempty"`
	Output        string          `json:"output"`
	ErrorMessage  string          `json:"error_message"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	DurationMs    *int64          `json:"duration,omitempty"`
}

// Outcome carries the terminal fields written when an execution is finalized.
type Outcome struct {
	Status      ExecutionStatus
	FailureKind FailureKind
	Output      string
	Error       string
	Duration    time.Duration
}
