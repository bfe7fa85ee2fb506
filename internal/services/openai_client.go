package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"csclub/backend/pkg/models"
)

const providerOpenAI = "openai"

// System prompts used when a workflow is emulated with a plain chat completion.
const (
	AdvisorSystemPrompt = "You are an advisor for a college computer science club. " +
		"Answer concretely and concisely."
	TaskExtractionSystemPrompt = "You turn a student's to-do list and daily schedule into a plan. " +
		`Reply with a JSON object {"tasks": [{"task": string, "time": string, "priority": "high"|"medium"|"low"}]}.`
)

// WorkflowPrompt describes how a workflow is emulated over chat completions.
type WorkflowPrompt struct {
	System string
	// OutputKey is where the completion text is stored in the outputs map.
	OutputKey string
	// JSON requests a JSON object answer.
	JSON bool
}

// OpenAIOptions configures the OpenAI client.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient implements WorkflowClient on top of the chat completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
	prompt WorkflowPrompt
	hasKey bool
}

// NewOpenAIClient creates a new OpenAIClient for one emulated workflow.
func NewOpenAIClient(opts OpenAIOptions, prompt WorkflowPrompt) *OpenAIClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")+"/"))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	model := opts.Model
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}

	return &OpenAIClient{
		client: openai.NewClient(reqOpts...),
		model:  model,
		prompt: prompt,
		hasKey: opts.APIKey != "",
	}
}

// RunWorkflow renders the inputs as a user message and stores the completion
// under the prompt's output key.
func (c *OpenAIClient) RunWorkflow(ctx context.Context, req models.WorkflowRunRequest) (*models.WorkflowRunResponse, error) {
	if !c.hasKey {
		return nil, ErrMissingAPIKey
	}

	ctx, span := tracer.Start(ctx, "openai.chat_completions", trace.WithSpanKind(trace.SpanKindClient))
	started := time.Now()
	completion, err := c.complete(ctx, renderInputs(req.Inputs), c.prompt.JSON)
	if err != nil {
		endSpan(span, err)
		recordCall(ctx, providerOpenAI, "workflows_run", "error", 0)
		return nil, err
	}

	outputs, err := sjson.SetBytes([]byte(`{}`), gjson.Escape(c.prompt.OutputKey), completion.Choices[0].Message.Content)
	if err != nil {
		endSpan(span, err)
		return nil, fmt.Errorf("failed to build outputs: %w", err)
	}

	elapsed := time.Since(started).Seconds()
	tokens := completion.Usage.TotalTokens
	span.SetAttributes(attribute.String("openai.completion_id", completion.ID))
	endSpan(span, nil)
	recordCall(ctx, providerOpenAI, "workflows_run", "ok", tokens)

	return &models.WorkflowRunResponse{
		WorkflowRunID: completion.ID,
		TaskID:        uuid.NewString(),
		Data: models.WorkflowFinishedData{
			ID:          completion.ID,
			WorkflowID:  c.model,
			Status:      models.WorkflowStatusSucceeded,
			Outputs:     outputs,
			ElapsedTime: &elapsed,
			TotalTokens: &tokens,
			TotalSteps:  1,
			CreatedAt:   completion.Created,
			FinishedAt:  time.Now().Unix(),
		},
	}, nil
}

// SendChatMessage answers one chat turn. Chat completions are stateless, so a
// new conversation id is issued when the caller has none.
func (c *OpenAIClient) SendChatMessage(ctx context.Context, req models.ChatMessageRequest) (*models.ChatMessageResponse, error) {
	if !c.hasKey {
		return nil, ErrMissingAPIKey
	}

	ctx, span := tracer.Start(ctx, "openai.chat_completions", trace.WithSpanKind(trace.SpanKindClient))
	completion, err := c.complete(ctx, req.Query, false)
	endSpan(span, err)
	if err != nil {
		recordCall(ctx, providerOpenAI, "chat_messages", "error", 0)
		return nil, err
	}
	recordCall(ctx, providerOpenAI, "chat_messages", "ok", completion.Usage.TotalTokens)

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	return &models.ChatMessageResponse{
		Event:          "message",
		ID:             completion.ID,
		MessageID:      completion.ID,
		ConversationID: conversationID,
		Mode:           "chat",
		Answer:         completion.Choices[0].Message.Content,
		Metadata: models.ChatMetadata{Usage: models.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		}},
		CreatedAt: completion.Created,
	}, nil
}

func (c *OpenAIClient) complete(ctx context.Context, user string, jsonMode bool) (*openai.ChatCompletion, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if c.prompt.System != "" {
		messages = append(messages, openai.SystemMessage(c.prompt.System))
	}
	messages = append(messages, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(c.model),
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: constant.JSONObject("json_object"),
			},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			out := &APIError{
				Provider:   providerOpenAI,
				StatusCode: apiErr.StatusCode,
				Code:       apiErr.Code,
				Message:    apiErr.Message,
				Err:        err,
			}
			if apiErr.Response != nil {
				out.RetryAfter = retryAfter(apiErr.Response.Header)
			}
			return nil, out
		}
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, &APIError{Provider: providerOpenAI, Message: "empty response"}
	}
	return completion, nil
}

// renderInputs formats workflow inputs as "key: value" lines in key order.
func renderInputs(inputs map[string]string) string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(inputs[k])
	}
	return b.String()
}
