package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"csclub/backend/internal/repository"
	"csclub/backend/internal/services"
	"csclub/backend/pkg/models"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Warn(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockAdvisor satisfies services.Advisor
type MockAdvisor struct {
	mock.Mock
}

func (m *MockAdvisor) Question() string {
	return m.Called().String(0)
}

func (m *MockAdvisor) Ask(ctx context.Context, prompt string) (*services.Answer, error) {
	args := m.Called(ctx, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Answer), args.Error(1)
}

func (m *MockAdvisor) ExtractTasks(ctx context.Context, todoList, dailySchedule string) (json.RawMessage, error) {
	args := m.Called(ctx, todoList, dailySchedule)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockAdvisor) Chat(ctx context.Context, query, conversationID string) (*models.ChatResponse, error) {
	args := m.Called(ctx, query, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatResponse), args.Error(1)
}

// stubJournal is an in-memory RunJournal.
type stubJournal struct {
	runs    []*models.WorkflowRun
	pingErr error
	limit   int
}

func (j *stubJournal) Record(ctx context.Context, run *models.WorkflowRun) error {
	j.runs = append(j.runs, run)
	return nil
}

func (j *stubJournal) Recent(ctx context.Context, limit int) ([]*models.WorkflowRun, error) {
	j.limit = limit
	if limit > len(j.runs) {
		limit = len(j.runs)
	}
	return j.runs[:limit], nil
}

func (j *stubJournal) Ping(ctx context.Context) error { return j.pingErr }

func newTestRouter(t *testing.T, advisor services.Advisor, journal *stubJournal, protect echo.MiddlewareFunc) *echo.Echo {
	t.Helper()
	var j repository.RunJournal
	if journal != nil {
		j = journal
	}
	h := NewHandler(advisor, j, &NoOpLogger{}, HandlerOptions{Title: "CS Club", Version: "test"})
	e, err := NewRouter(h, RouterOptions{Logger: &NoOpLogger{}, Protect: protect})
	require.NoError(t, err)
	return e
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetails {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))
	var problem ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

func TestHandleEcho_ReturnsMessageUnchanged(t *testing.T) {
	e := newTestRouter(t, new(MockAdvisor), nil, nil)

	for _, msg := range []string{"hello", "", "  spaced  ", "ünïcødé ✓", `quote " and \ backslash`} {
		t.Run(fmt.Sprintf("%q", msg), func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{"message": msg})
			rec := doJSON(e, http.MethodPost, "/echo", string(body))

			require.Equal(t, http.StatusOK, rec.Code)
			var resp models.EchoResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, msg, resp.Message)
		})
	}
}

func TestHandleEcho_InvalidBodies(t *testing.T) {
	e := newTestRouter(t, new(MockAdvisor), nil, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing field", `{"other": "x"}`, http.StatusUnprocessableEntity},
		{"empty object", `{}`, http.StatusUnprocessableEntity},
		{"malformed json", `{"message": `, http.StatusBadRequest},
		{"wrong type", `{"message": 42}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(e, http.MethodPost, "/echo", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			problem := decodeProblem(t, rec)
			assert.Equal(t, tt.status, problem.Status)
			assert.Equal(t, "/echo", problem.Instance)
		})
	}
}

func TestHandleChoices_ForwardsFieldsVerbatim(t *testing.T) {
	advisor := new(MockAdvisor)
	doc := json.RawMessage(`{"tasks":[{"task":"study","priority":"high"}]}`)
	advisor.On("ExtractTasks", mock.Anything, "study\nlaundry", "9-5 class").Return(doc, nil)
	e := newTestRouter(t, advisor, nil, nil)

	rec := doJSON(e, http.MethodPost, "/choices", `{"to-do list": "study\nlaundry", "daily schedule": "9-5 class"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
	assert.JSONEq(t, string(doc), rec.Body.String())
	advisor.AssertExpectations(t)
}

func TestHandleChoices_MissingField(t *testing.T) {
	advisor := new(MockAdvisor)
	e := newTestRouter(t, advisor, nil, nil)

	rec := doJSON(e, http.MethodPost, "/choices", `{"to-do list": "study"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, "daily schedule")
	advisor.AssertNotCalled(t, "ExtractTasks", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleChoices_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"api error", &services.APIError{Provider: "dify", StatusCode: 401, Message: "invalid key"}, http.StatusBadGateway},
		{"workflow failed", fmt.Errorf("%w: run r1 failed", services.ErrWorkflowFailed), http.StatusBadGateway},
		{"output missing", &services.OutputError{Key: "json response", Err: services.ErrOutputMissing}, http.StatusBadGateway},
		{"output malformed", &services.OutputError{Key: "json response", Err: services.ErrOutputMalformed}, http.StatusBadGateway},
		{"timeout", fmt.Errorf("%w: deadline", services.ErrUpstreamTimeout), http.StatusGatewayTimeout},
		{"client gone", fmt.Errorf("failed to make request: %w", context.Canceled), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advisor := new(MockAdvisor)
			advisor.On("ExtractTasks", mock.Anything, "a", "b").Return(nil, tt.err)
			e := newTestRouter(t, advisor, nil, nil)

			rec := doJSON(e, http.MethodPost, "/choices", `{"to-do list": "a", "daily schedule": "b"}`)

			assert.Equal(t, tt.status, rec.Code)
			problem := decodeProblem(t, rec)
			assert.Equal(t, tt.status, problem.Status)
			assert.Equal(t, http.StatusText(tt.status), problem.Title)
		})
	}
}

func TestHandleChoices_RateLimited(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter time.Duration
		want       string
	}{
		{"provider hint", 7 * time.Second, "7"},
		{"no hint", 0, "30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advisor := new(MockAdvisor)
			advisor.On("ExtractTasks", mock.Anything, "a", "b").Return(nil, &services.APIError{
				Provider:   "dify",
				StatusCode: http.StatusTooManyRequests,
				Message:    "slow down",
				RetryAfter: tt.retryAfter,
			})
			e := newTestRouter(t, advisor, nil, nil)

			rec := doJSON(e, http.MethodPost, "/choices", `{"to-do list": "a", "daily schedule": "b"}`)

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Retry-After"))
			assert.Equal(t, http.StatusServiceUnavailable, decodeProblem(t, rec).Status)
		})
	}
}

func TestHandleChat(t *testing.T) {
	advisor := new(MockAdvisor)
	advisor.On("Chat", mock.Anything, "hi", "conv-1").Return(&models.ChatResponse{
		Answer:         "hello",
		ConversationID: "conv-1",
		MessageID:      "msg-1",
	}, nil)
	e := newTestRouter(t, advisor, nil, nil)

	rec := doJSON(e, http.MethodPost, "/chat", `{"query": "hi", "conversation_id": "conv-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"hello","conversation_id":"conv-1","message_id":"msg-1"}`, rec.Body.String())

	rec = doJSON(e, http.MethodPost, "/chat", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleIndex_RendersAnswer(t *testing.T) {
	advisor := new(MockAdvisor)
	advisor.On("Question").Return("Best college?")
	advisor.On("Ask", mock.Anything, "").Return(&services.Answer{Text: "Go to <community> college", RunID: "r1"}, nil)
	e := newTestRouter(t, advisor, nil, nil)

	rec := doJSON(e, http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMETextHTML)

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "CS Club", strings.TrimSpace(doc.Find("title").Text()))
	assert.Equal(t, "Best college?", strings.TrimSpace(doc.Find("main > p").First().Text()))
	answer := doc.Find("article p")
	assert.Equal(t, "Go to <community> college", strings.TrimSpace(answer.Text()))
	assert.False(t, answer.HasClass("error"))
}

func TestHandleIndex_NoOutputFallback(t *testing.T) {
	advisor := new(MockAdvisor)
	advisor.On("Question").Return("Best college?")
	advisor.On("Ask", mock.Anything, "").Return(&services.Answer{Text: services.NoOutputText}, nil)
	e := newTestRouter(t, advisor, nil, nil)

	rec := doJSON(e, http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, services.NoOutputText, strings.TrimSpace(doc.Find("article p").Text()))
}

func TestHandleIndex_UpstreamFailureRendersErrorPage(t *testing.T) {
	advisor := new(MockAdvisor)
	advisor.On("Question").Return("Best college?")
	advisor.On("Ask", mock.Anything, "").Return(nil, fmt.Errorf("%w: slow", services.ErrUpstreamTimeout))
	e := newTestRouter(t, advisor, nil, nil)

	rec := doJSON(e, http.MethodGet, "/", "")

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMETextHTML)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	p := doc.Find("article p")
	assert.True(t, p.HasClass("error"))
	assert.Contains(t, p.Text(), "did not answer in time")
}

func TestHandleIndex_RateLimitedSetsRetryAfter(t *testing.T) {
	advisor := new(MockAdvisor)
	advisor.On("Question").Return("Best college?")
	advisor.On("Ask", mock.Anything, "").Return(nil, fmt.Errorf("page workflow: %w", &services.APIError{
		Provider:   "openai",
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: 12 * time.Second,
	}))
	e := newTestRouter(t, advisor, nil, nil)

	rec := doJSON(e, http.MethodGet, "/", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "12", rec.Header().Get("Retry-After"))
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, doc.Find("article p.error").Text(), "busy")
}

func TestHandleHealth(t *testing.T) {
	t.Run("journal disabled", func(t *testing.T) {
		e := newTestRouter(t, new(MockAdvisor), nil, nil)
		rec := doJSON(e, http.MethodGet, "/healthz", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var status HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "ok", status.Status)
		assert.Equal(t, "disabled", status.Journal)
		assert.Equal(t, "test", status.Version)
		assert.WithinDuration(t, time.Now(), status.Timestamp, time.Minute)
	})

	t.Run("journal unreachable", func(t *testing.T) {
		e := newTestRouter(t, new(MockAdvisor), &stubJournal{pingErr: errors.New("connection refused")}, nil)
		rec := doJSON(e, http.MethodGet, "/healthz", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var status HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "degraded", status.Status)
		assert.Equal(t, "unreachable", status.Journal)
	})
}

func TestHandleListRuns(t *testing.T) {
	journal := &stubJournal{runs: []*models.WorkflowRun{
		{ID: "a", Workflow: models.WorkflowPage, Status: "succeeded"},
		{ID: "b", Workflow: models.WorkflowChoices, Status: "failed"},
	}}
	e := newTestRouter(t, new(MockAdvisor), journal, nil)

	rec := doJSON(e, http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, journal.limit)

	var runs []models.WorkflowRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)

	rec = doJSON(e, http.MethodGet, "/api/v1/runs?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, journal.limit)

	for _, bad := range []string{"0", "101", "abc", "-3"} {
		rec = doJSON(e, http.MethodGet, "/api/v1/runs?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}
}

func TestProtectedRoutes(t *testing.T) {
	deny := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
	}
	advisor := new(MockAdvisor)
	advisor.On("Question").Return("q")
	advisor.On("Ask", mock.Anything, "").Return(&services.Answer{Text: "a"}, nil)
	e := newTestRouter(t, advisor, &stubJournal{}, deny)

	for _, path := range []string{"/choices", "/chat"} {
		rec := doJSON(e, http.MethodPost, path, `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := doJSON(e, http.MethodGet, "/api/v1/runs", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusOK, doJSON(e, http.MethodPost, "/echo", `{"message":"x"}`).Code)
	assert.Equal(t, http.StatusOK, doJSON(e, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, doJSON(e, http.MethodGet, "/", "").Code)
}

func TestDocs(t *testing.T) {
	e := newTestRouter(t, new(MockAdvisor), nil, nil)

	rec := doJSON(e, http.MethodGet, "/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/choices:")
	assert.Contains(t, rec.Body.String(), "status 502 rather than the fallback text")

	rec = doJSON(e, http.MethodGet, "/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SwaggerUIBundle")
}

func TestUnknownRouteIsProblem(t *testing.T) {
	e := newTestRouter(t, new(MockAdvisor), nil, nil)

	rec := doJSON(e, http.MethodGet, "/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decodeProblem(t, rec).Status)
}
