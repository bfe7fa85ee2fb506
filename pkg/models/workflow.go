package models

import (
	"encoding/json"
	"fmt"
)

// ResponseMode selects how the remote service delivers a run result.
type ResponseMode string

const (
	ResponseModeBlocking  ResponseMode = "blocking"
	ResponseModeStreaming ResponseMode = "streaming"
)

// WorkflowStatus is the terminal (or current) state of a workflow run.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusSucceeded WorkflowStatus = "succeeded"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusStopped   WorkflowStatus = "stopped"
)

// File references a file attached to a workflow run.
type File struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	URL            string `json:"url,omitempty"`
	UploadFileID   string `json:"upload_file_id,omitempty"`
}

// WorkflowRunRequest is the body of POST /v1/workflows/run.
type WorkflowRunRequest struct {
	Inputs       map[string]string `json:"inputs"`
	ResponseMode ResponseMode      `json:"response_mode"`
	User         string            `json:"user"`
	Files        []File            `json:"files,omitempty"`
}

// WorkflowRunResponse is the blocking-mode answer of the workflow API.
type WorkflowRunResponse struct {
	WorkflowRunID string               `json:"workflow_run_id"`
	TaskID        string               `json:"task_id"`
	Data          WorkflowFinishedData `json:"data"`
}

// WorkflowFinishedData carries the result of a finished run. Outputs is kept
// raw because its shape is defined by whoever built the workflow.
type WorkflowFinishedData struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      WorkflowStatus  `json:"status"`
	Outputs     json.RawMessage `json:"outputs"`
	Error       *string         `json:"error"`
	ElapsedTime *float64        `json:"elapsed_time"`
	TotalTokens *int64          `json:"total_tokens"`
	TotalSteps  int64           `json:"total_steps"`
	CreatedAt   int64           `json:"created_at"`
	FinishedAt  int64           `json:"finished_at"`

	// Extra holds every field the type does not know about.
	Extra map[string]json.RawMessage `json:"-"`
}

var finishedDataFields = []string{
	"id", "workflow_id", "status", "outputs", "error", "elapsed_time",
	"total_tokens", "total_steps", "created_at", "finished_at",
}

// UnmarshalJSON decodes the known fields and collects the rest into Extra.
func (d *WorkflowFinishedData) UnmarshalJSON(data []byte) error {
	type plain WorkflowFinishedData
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("failed to decode workflow data fields: %w", err)
	}
	for _, k := range finishedDataFields {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}

	*d = WorkflowFinishedData(p)
	return nil
}

// HasOutputs reports whether the run produced an outputs object.
func (d *WorkflowFinishedData) HasOutputs() bool {
	return len(d.Outputs) > 0 && string(d.Outputs) != "null"
}

// Failed reports whether the run ended without producing a result.
func (d *WorkflowFinishedData) Failed() bool {
	return d.Status == WorkflowStatusFailed || d.Status == WorkflowStatusStopped
}
