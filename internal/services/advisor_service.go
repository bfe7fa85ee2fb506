package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"csclub/backend/internal/auth"
	"csclub/backend/internal/repository"
	"csclub/backend/pkg/models"
)

// NoOutputText is shown when the page workflow produced no usable result.
const NoOutputText = "No output available"

// Answer is the page workflow's result.
type Answer struct {
	Text  string
	RunID string
}

// AdvisorClients holds one client per remote app.
type AdvisorClients struct {
	Page    WorkflowClient
	Choices WorkflowClient
	Chat    WorkflowClient
}

// AdvisorOptions carries the input/output key conventions of the remote apps.
type AdvisorOptions struct {
	User             string
	Question         string
	PagePrompt       string
	PageInputKey     string
	PageOutputKey    string
	ChoicesOutputKey string
}

// AdvisorService is a service forwarding club questions to the remote apps.
type AdvisorService struct {
	clients AdvisorClients
	journal repository.RunJournal
	logger  Logger
	opts    AdvisorOptions
}

// NewAdvisorService creates a new AdvisorService. A nil journal disables recording.
func NewAdvisorService(clients AdvisorClients, journal repository.RunJournal, logger Logger, opts AdvisorOptions) *AdvisorService {
	if journal == nil {
		journal = repository.NopJournal{}
	}
	return &AdvisorService{
		clients: clients,
		journal: journal,
		logger:  logger,
		opts:    opts,
	}
}

// Question returns the question displayed on the page.
func (s *AdvisorService) Question() string {
	return s.opts.Question
}

// Ask runs the page workflow. An empty prompt uses the configured one.
func (s *AdvisorService) Ask(ctx context.Context, prompt string) (*Answer, error) {
	resp, err := s.RunPage(ctx, prompt)
	if err != nil {
		return nil, err
	}

	text, err := OutputString(resp.Data.Outputs, s.opts.PageOutputKey)
	if err != nil {
		s.logger.Warn("page workflow returned no usable output", "run_id", resp.WorkflowRunID, "error", err)
		text = NoOutputText
	}
	return &Answer{Text: text, RunID: resp.WorkflowRunID}, nil
}

// userFor names the workflow user: the authenticated subject when the
// request carries one, the configured user otherwise.
func (s *AdvisorService) userFor(ctx context.Context) string {
	if p, ok := auth.FromContext(ctx); ok && p.Subject != "" {
		return p.Subject
	}
	return s.opts.User
}

// RunPage runs the page workflow and returns the raw run, after logging its
// debug report.
func (s *AdvisorService) RunPage(ctx context.Context, prompt string) (*models.WorkflowRunResponse, error) {
	if prompt == "" {
		prompt = s.opts.PagePrompt
	}

	resp, err := s.clients.Page.RunWorkflow(ctx, models.WorkflowRunRequest{
		Inputs:       map[string]string{s.opts.PageInputKey: prompt},
		ResponseMode: models.ResponseModeBlocking,
		User:         s.userFor(ctx),
	})
	s.recordWorkflow(ctx, models.WorkflowPage, resp, err)
	if err != nil {
		return nil, fmt.Errorf("failed to run page workflow: %w", err)
	}

	s.logger.Debug("page workflow finished", "run_id", resp.WorkflowRunID,
		"report", DebugReport(&resp.Data, s.opts.PageOutputKey))

	if resp.Data.Failed() {
		return nil, workflowFailure(&resp.Data)
	}
	return resp, nil
}

// ExtractTasks runs the task extraction workflow with the two fields passed
// verbatim and returns the parsed JSON output.
func (s *AdvisorService) ExtractTasks(ctx context.Context, todoList, dailySchedule string) (json.RawMessage, error) {
	resp, err := s.clients.Choices.RunWorkflow(ctx, models.WorkflowRunRequest{
		Inputs: map[string]string{
			models.InputTodoList:      todoList,
			models.InputDailySchedule: dailySchedule,
		},
		ResponseMode: models.ResponseModeBlocking,
		User:         s.userFor(ctx),
	})
	s.recordWorkflow(ctx, models.WorkflowChoices, resp, err)
	if err != nil {
		return nil, fmt.Errorf("failed to run task extraction workflow: %w", err)
	}

	s.logger.Debug("task extraction workflow finished", "run_id", resp.WorkflowRunID,
		"report", DebugReport(&resp.Data, s.opts.ChoicesOutputKey))

	if resp.Data.Failed() {
		return nil, workflowFailure(&resp.Data)
	}

	doc, err := OutputJSON(resp.Data.Outputs, s.opts.ChoicesOutputKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read task extraction output: %w", err)
	}
	return doc, nil
}

// Chat sends one chat turn.
func (s *AdvisorService) Chat(ctx context.Context, query, conversationID string) (*models.ChatResponse, error) {
	started := time.Now()
	resp, err := s.clients.Chat.SendChatMessage(ctx, models.ChatMessageRequest{
		Inputs:         map[string]string{},
		Query:          query,
		ResponseMode:   models.ResponseModeBlocking,
		ConversationID: conversationID,
		User:           s.userFor(ctx),
	})

	run := &models.WorkflowRun{
		Workflow:       models.WorkflowChat,
		Status:         string(models.WorkflowStatusSucceeded),
		ElapsedSeconds: time.Since(started).Seconds(),
	}
	if err != nil {
		run.Status = "error"
		run.Error = err.Error()
	} else {
		run.RemoteRunID = resp.MessageID
		run.TotalTokens = resp.Metadata.Usage.TotalTokens
		run.TotalSteps = 1
		if resp.CreatedAt > 0 {
			run.CreatedAt = time.Unix(resp.CreatedAt, 0).UTC()
		}
	}
	s.record(ctx, run)

	if err != nil {
		return nil, fmt.Errorf("failed to send chat message: %w", err)
	}
	return &models.ChatResponse{
		Answer:         resp.Answer,
		ConversationID: resp.ConversationID,
		MessageID:      resp.MessageID,
	}, nil
}

func (s *AdvisorService) recordWorkflow(ctx context.Context, workflow string, resp *models.WorkflowRunResponse, err error) {
	run := &models.WorkflowRun{Workflow: workflow}
	if err != nil {
		run.Status = "error"
		run.Error = err.Error()
		s.record(ctx, run)
		return
	}

	data := resp.Data
	run.RemoteRunID = resp.WorkflowRunID
	run.Status = string(data.Status)
	if data.Error != nil {
		run.Error = *data.Error
	}
	if data.ElapsedTime != nil {
		run.ElapsedSeconds = *data.ElapsedTime
	}
	if data.TotalTokens != nil {
		run.TotalTokens = *data.TotalTokens
	}
	run.TotalSteps = data.TotalSteps
	if data.CreatedAt > 0 {
		run.CreatedAt = time.Unix(data.CreatedAt, 0).UTC()
	}
	if data.FinishedAt > 0 {
		run.FinishedAt = time.Unix(data.FinishedAt, 0).UTC()
	}
	s.record(ctx, run)
}

// record writes to the journal. Journal failures never fail a request.
func (s *AdvisorService) record(ctx context.Context, run *models.WorkflowRun) {
	if err := s.journal.Record(ctx, run); err != nil {
		s.logger.Warn("failed to record workflow run", "workflow", run.Workflow, "error", err)
	}
}

func workflowFailure(data *models.WorkflowFinishedData) error {
	msg := string(data.Status)
	if data.Error != nil && *data.Error != "" {
		msg += ": " + *data.Error
	}
	return fmt.Errorf("%w: run %s %s", ErrWorkflowFailed, data.ID, msg)
}
