package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"csclub/backend/pkg/models"
)

const (
	providerDify = "dify"

	workflowsRunPath = "/v1/workflows/run"
	chatMessagesPath = "/v1/chat-messages"

	maxErrorBody = 4 << 10
)

// HTTPDifyClient is an HTTP implementation of the WorkflowClient interface
// for one Dify app.
type HTTPDifyClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPDifyClient creates a new HTTPDifyClient. Every call is bounded by timeout.
func NewHTTPDifyClient(baseURL, apiKey string, timeout time.Duration) *HTTPDifyClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second

	return &HTTPDifyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// RunWorkflow executes the app's workflow in blocking mode.
func (c *HTTPDifyClient) RunWorkflow(ctx context.Context, req models.WorkflowRunRequest) (*models.WorkflowRunResponse, error) {
	if req.ResponseMode == "" {
		req.ResponseMode = models.ResponseModeBlocking
	}
	if req.Inputs == nil {
		req.Inputs = map[string]string{}
	}

	ctx, span := tracer.Start(ctx, "dify.workflows_run", trace.WithSpanKind(trace.SpanKindClient))
	var out models.WorkflowRunResponse
	err := c.post(ctx, workflowsRunPath, req, &out)
	if err != nil {
		endSpan(span, err)
		recordCall(ctx, providerDify, "workflows_run", "error", 0)
		return nil, err
	}

	var tokens int64
	if out.Data.TotalTokens != nil {
		tokens = *out.Data.TotalTokens
	}
	span.SetAttributes(
		attribute.String("dify.workflow_run_id", out.WorkflowRunID),
		attribute.String("dify.status", string(out.Data.Status)),
	)
	endSpan(span, nil)
	recordCall(ctx, providerDify, "workflows_run", "ok", tokens)
	return &out, nil
}

// SendChatMessage sends one chat turn in blocking mode.
func (c *HTTPDifyClient) SendChatMessage(ctx context.Context, req models.ChatMessageRequest) (*models.ChatMessageResponse, error) {
	if req.ResponseMode == "" {
		req.ResponseMode = models.ResponseModeBlocking
	}
	if req.Inputs == nil {
		req.Inputs = map[string]string{}
	}

	ctx, span := tracer.Start(ctx, "dify.chat_messages", trace.WithSpanKind(trace.SpanKindClient))
	var out models.ChatMessageResponse
	err := c.post(ctx, chatMessagesPath, req, &out)
	endSpan(span, err)
	if err != nil {
		recordCall(ctx, providerDify, "chat_messages", "error", 0)
		return nil, err
	}

	recordCall(ctx, providerDify, "chat_messages", "ok", out.Metadata.Usage.TotalTokens)
	return &out, nil
}

func (c *HTTPDifyClient) post(ctx context.Context, path string, body, out any) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeDifyError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// decodeDifyError turns an error response into an APIError. Dify answers
// with {"code": ..., "message": ..., "status": ...}; anything else is kept as
// the raw body.
func decodeDifyError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{
		Provider:   providerDify,
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfter(resp.Header),
	}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && (body.Code != "" || body.Message != "") {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
