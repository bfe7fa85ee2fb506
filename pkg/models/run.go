package models

import (
	"time"
)

// Workflow names used in the run journal.
const (
	WorkflowPage    = "page"
	WorkflowChoices = "choices"
	WorkflowChat    = "chat"
)

// WorkflowRun is one journal entry describing a remote call.
type WorkflowRun struct {
	ID             string    `json:"id"`
	Workflow       string    `json:"workflow"`
	RemoteRunID    string    `json:"remote_run_id"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	TotalTokens    int64     `json:"total_tokens"`
	TotalSteps     int64     `json:"total_steps"`
	CreatedAt      time.Time `json:"created_at"`
	FinishedAt     time.Time `json:"finished_at"`
	RecordedAt     time.Time `json:"recorded_at"`
}
