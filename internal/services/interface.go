package services

import (
	"context"
	"encoding/json"

	"csclub/backend/pkg/models"
)

// WorkflowClient is an interface for communicating with the hosted workflow/chat service.
type WorkflowClient interface {
	// RunWorkflow executes a workflow in blocking mode and returns its result.
	RunWorkflow(ctx context.Context, req models.WorkflowRunRequest) (*models.WorkflowRunResponse, error)
	// SendChatMessage sends one chat turn and returns the answer.
	SendChatMessage(ctx context.Context, req models.ChatMessageRequest) (*models.ChatMessageResponse, error)
}

// Advisor is the operation set exposed to the HTTP and MCP surfaces.
type Advisor interface {
	// Question is the fixed page question shown above the answer.
	Question() string
	// Ask runs the page workflow with the given prompt, or the configured
	// prompt when empty.
	Ask(ctx context.Context, prompt string) (*Answer, error)
	// ExtractTasks runs the task extraction workflow and returns its JSON output.
	ExtractTasks(ctx context.Context, todoList, dailySchedule string) (json.RawMessage, error)
	// Chat sends one chat turn.
	Chat(ctx context.Context, query, conversationID string) (*models.ChatResponse, error)
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
