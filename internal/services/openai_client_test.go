package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csclub/backend/pkg/models"
)

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1705407629,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 20, "completion_tokens": 10, "total_tokens": 30},
	})
	return string(b)
}

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func newCompletionServer(t *testing.T, content string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if captured != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionBody(content)))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenAIClient_RunWorkflow_StoresAnswerUnderOutputKey(t *testing.T) {
	var captured capturedRequest
	server := newCompletionServer(t, `{"tasks": [{"task": "study"}]}`, &captured)

	client := NewOpenAIClient(
		OpenAIOptions{APIKey: "sk-test", BaseURL: server.URL, Timeout: 5 * time.Second},
		WorkflowPrompt{System: TaskExtractionSystemPrompt, OutputKey: "json response", JSON: true},
	)
	resp, err := client.RunWorkflow(context.Background(), models.WorkflowRunRequest{
		Inputs: map[string]string{"to-do list": "study", "daily schedule": "9-5 classes"},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "daily schedule: 9-5 classes\n\nto-do list: study", captured.Messages[1].Content)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)

	assert.Equal(t, models.WorkflowStatusSucceeded, resp.Data.Status)
	require.NotNil(t, resp.Data.TotalTokens)
	assert.Equal(t, int64(30), *resp.Data.TotalTokens)

	doc, err := OutputJSON(resp.Data.Outputs, "json response")
	require.NoError(t, err)
	assert.JSONEq(t, `{"tasks": [{"task": "study"}]}`, string(doc))
}

func TestOpenAIClient_SendChatMessage_IssuesConversationID(t *testing.T) {
	var captured capturedRequest
	server := newCompletionServer(t, "Start with CS50.", &captured)

	client := NewOpenAIClient(
		OpenAIOptions{APIKey: "sk-test", BaseURL: server.URL, Model: "gpt-4.1-mini"},
		WorkflowPrompt{System: AdvisorSystemPrompt, OutputKey: "result"},
	)
	resp, err := client.SendChatMessage(context.Background(), models.ChatMessageRequest{Query: "Where do I start?"})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1-mini", captured.Model)
	assert.Nil(t, captured.ResponseFormat)
	assert.Equal(t, "Start with CS50.", resp.Answer)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, int64(30), resp.Metadata.Usage.TotalTokens)
}

func TestOpenAIClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIOptions{APIKey: "sk-test", BaseURL: server.URL}, WorkflowPrompt{OutputKey: "result"})
	_, err := client.RunWorkflow(context.Background(), models.WorkflowRunRequest{})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "openai", apiErr.Provider)
	assert.True(t, apiErr.IsAuthError())
}

func TestOpenAIClient_MissingAPIKey(t *testing.T) {
	client := NewOpenAIClient(OpenAIOptions{}, WorkflowPrompt{OutputKey: "result"})
	_, err := client.RunWorkflow(context.Background(), models.WorkflowRunRequest{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	_, err = client.SendChatMessage(context.Background(), models.ChatMessageRequest{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
