package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger Logger
	// Protect guards the JSON workflow routes and /api/v1. Nil leaves them public.
	Protect echo.MiddlewareFunc
	// MCP serves /mcp/*. Nil disables the MCP surface.
	MCP         http.Handler
	ServiceName string
}

// NewRouter builds the echo instance with middleware and every route mounted.
func NewRouter(h *Handler, opts RouterOptions) (*echo.Echo, error) {
	renderer, err := NewTemplateRenderer()
	if err != nil {
		return nil, err
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "csclub"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.Binder = &jsonBinder{}
	e.HTTPErrorHandler = ProblemHandler(opts.Logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestLogger(opts.Logger))
	e.Use(otelecho.Middleware(opts.ServiceName))

	protect := opts.Protect
	if protect == nil {
		protect = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	e.GET("/", h.HandleIndex)
	e.GET("/healthz", h.HandleHealth)
	e.POST("/echo", h.HandleEcho)
	e.POST("/choices", h.HandleChoices, protect)
	e.POST("/chat", h.HandleChat, protect)

	apiGroup := e.Group("/api/v1", protect)
	apiGroup.GET("/runs", h.HandleListRuns)

	e.GET("/openapi.yaml", SpecHandler)
	e.GET("/docs", SwaggerHandler)

	if opts.MCP != nil {
		e.Any("/mcp/*", mcpHandler(opts.MCP), protect)
	}
	return e, nil
}

// mcpHandler serves the MCP transport. The SSE stream outlives any server
// WriteTimeout, so the write deadline is cleared for these routes.
func mcpHandler(next http.Handler) echo.HandlerFunc {
	return func(c echo.Context) error {
		rc := http.NewResponseController(c.Response())
		if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		next.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

func requestLogger(logger Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				logger.Warn("request", append(args, "error", v.Error)...)
				return nil
			}
			logger.Info("request", args...)
			return nil
		},
	})
}
