// Package api contains the HTTP handlers for the CS Club backend
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"csclub/backend/internal/repository"
	"csclub/backend/internal/services"
	"csclub/backend/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler contains HTTP handlers for the CS Club REST API and page
type Handler struct {
	advisor services.Advisor
	journal repository.RunJournal
	logger  Logger
	title   string
	version string
}

// HandlerOptions carries presentation settings.
type HandlerOptions struct {
	Title   string
	Version string
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(advisor services.Advisor, journal repository.RunJournal, logger Logger, opts HandlerOptions) *Handler {
	if journal == nil {
		journal = repository.NopJournal{}
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handler{
		advisor: advisor,
		journal: journal,
		logger:  logger,
		title:   opts.Title,
		version: opts.Version,
	}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Journal   string    `json:"journal"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "csclub",
		Version:   h.version,
		Journal:   "ok",
	}

	if _, off := h.journal.(repository.NopJournal); off {
		status.Journal = "disabled"
		return c.JSON(http.StatusOK, status)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.journal.Ping(ctx); err != nil {
		h.logger.Warn("run journal unreachable", "error", err)
		status.Status = "degraded"
		status.Journal = "unreachable"
	}
	return c.JSON(http.StatusOK, status)
}

// HandleEcho returns the posted message unchanged
// (POST /echo)
func (h *Handler) HandleEcho(c echo.Context) error {
	var req models.EchoRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	if req.Message == nil {
		return missingField("message")
	}
	return c.JSON(http.StatusOK, models.EchoResponse{Message: *req.Message})
}

// HandleChoices forwards a to-do list and schedule to the task extraction
// workflow and returns its JSON answer
// (POST /choices)
func (h *Handler) HandleChoices(c echo.Context) error {
	var req models.ChoicesRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	if req.TodoList == nil {
		return missingField(models.InputTodoList)
	}
	if req.DailySchedule == nil {
		return missingField(models.InputDailySchedule)
	}

	doc, err := h.advisor.ExtractTasks(c.Request().Context(), *req.TodoList, *req.DailySchedule)
	if err != nil {
		return upstreamError(err)
	}
	return c.JSONBlob(http.StatusOK, doc)
}

// HandleChat sends one chat turn
// (POST /chat)
func (h *Handler) HandleChat(c echo.Context) error {
	var req models.ChatRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	if req.Query == nil {
		return missingField("query")
	}

	resp, err := h.advisor.Chat(c.Request().Context(), *req.Query, req.ConversationID)
	if err != nil {
		return upstreamError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleListRuns returns the most recent workflow runs
// (GET /api/v1/runs)
func (h *Handler) HandleListRuns(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > repository.MaxRecent {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("limit must be an integer between 1 and %d", repository.MaxRecent))
		}
		limit = n
	}

	runs, err := h.journal.Recent(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list runs").SetInternal(err)
	}
	return c.JSON(http.StatusOK, runs)
}

func missingField(name string) error {
	return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("missing field %q", name))
}

// bindError reports a body that could not be decoded. A missing or wrong
// Content-Type stays 415, everything else is 400.
func bindError(err error) error {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error()).SetInternal(err)
	}
	if he.Code == http.StatusUnsupportedMediaType {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType,
			"Expected request with `Content-Type: application/json`").SetInternal(err)
	}
	msg := fmt.Sprint(he.Message)
	if he.Internal != nil {
		msg = he.Internal.Error()
	}
	return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+msg).SetInternal(err)
}

// upstreamError maps a service failure onto an HTTP status.
func upstreamError(err error) *echo.HTTPError {
	var apiErr *services.APIError
	switch {
	case errors.Is(err, services.ErrUpstreamTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "The workflow service did not answer in time").SetInternal(err)
	case errors.As(err, &apiErr) && apiErr.IsRateLimited():
		return echo.NewHTTPError(http.StatusServiceUnavailable, "The workflow service is busy, try again later").SetInternal(err)
	case errors.As(err, &apiErr):
		return echo.NewHTTPError(http.StatusBadGateway, "The workflow service rejected the request: "+apiErr.Message).SetInternal(err)
	case errors.Is(err, services.ErrWorkflowFailed):
		return echo.NewHTTPError(http.StatusBadGateway, "The workflow run failed").SetInternal(err)
	case errors.Is(err, services.ErrOutputMissing),
		errors.Is(err, services.ErrOutputNotString),
		errors.Is(err, services.ErrOutputMalformed):
		return echo.NewHTTPError(http.StatusBadGateway, "The workflow returned an unexpected result").SetInternal(err)
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Request cancelled").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal error").SetInternal(err)
	}
}

// setRetryAfter forwards a throttled provider's Retry-After hint.
func setRetryAfter(c echo.Context, err error) {
	var apiErr *services.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsRateLimited() {
		return
	}
	secs := int(apiErr.RetryAfter.Round(time.Second) / time.Second)
	if secs <= 0 {
		secs = defaultRetryAfter
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
}

const defaultRetryAfter = 30

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// ProblemHandler is an echo.HTTPErrorHandler writing RFC 7807 responses.
func ProblemHandler(logger Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if !errors.As(err, &he) {
			he = upstreamError(err)
		}
		setRetryAfter(c, err)
		if he.Code >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", he.Code,
				"error", err,
			)
		}

		problem := ProblemDetails{
			Type:     "about:blank",
			Title:    http.StatusText(he.Code),
			Status:   he.Code,
			Detail:   fmt.Sprint(he.Message),
			Instance: c.Request().URL.Path,
		}
		if err := writeProblem(c, problem); err != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}

// writeProblem writes an RFC 7807 Problem Details JSON error response
func writeProblem(c echo.Context, problem ProblemDetails) error {
	if c.Request().Method == http.MethodHead {
		return c.NoContent(problem.Status)
	}
	body, err := json.Marshal(problem)
	if err != nil {
		return err
	}
	return c.Blob(problem.Status, "application/problem+json", body)
}
