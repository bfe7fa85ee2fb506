package api

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFS embed.FS

const indexTemplate = "index.html"

// TemplateRenderer renders the embedded HTML templates for echo.
type TemplateRenderer struct {
	templates *template.Template
}

// NewTemplateRenderer parses the embedded templates.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	t, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &TemplateRenderer{templates: t}, nil
}

// Render implements echo.Renderer.
func (r *TemplateRenderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

type indexPage struct {
	Title    string
	Question string
	Answer   string
	Error    string
}

// HandleIndex runs the page workflow and renders the answer
// (GET /)
func (h *Handler) HandleIndex(c echo.Context) error {
	page := indexPage{
		Title:    h.title,
		Question: h.advisor.Question(),
	}

	answer, err := h.advisor.Ask(c.Request().Context(), "")
	if err != nil {
		he := upstreamError(err)
		setRetryAfter(c, err)
		h.logger.Error("page workflow failed", "error", err)
		page.Error = fmt.Sprint(he.Message)
		return c.Render(he.Code, indexTemplate, page)
	}

	page.Answer = answer.Text
	return c.Render(http.StatusOK, indexTemplate, page)
}
