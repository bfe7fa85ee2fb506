// Package mcp exposes the advisor operations as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"csclub/backend/internal/services"
)

type Server struct {
	mcpServer *server.MCPServer
	advisor   services.Advisor
}

func NewServer(advisor services.Advisor, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"CS Club Advisor",
			version,
			server.WithToolCapabilities(true),
		),
		advisor: advisor,
	}

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"ask_question",
			mcp.WithDescription("Ask the club advisor workflow a question. Without a question the page's default prompt is used."),
			mcp.WithString("question", mcp.Description("The question to ask")),
		),
		s.handleAskQuestion,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"extract_tasks",
			mcp.WithDescription("Turn a to-do list and a daily schedule into prioritized tasks"),
			mcp.WithString("todo_list", mcp.Required(), mcp.Description("Free-form to-do list")),
			mcp.WithString("daily_schedule", mcp.Required(), mcp.Description("Free-form daily schedule")),
		),
		s.handleExtractTasks,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"chat",
			mcp.WithDescription("Send one message to the club chat assistant"),
			mcp.WithString("query", mcp.Required(), mcp.Description("The message")),
			mcp.WithString("conversation_id", mcp.Description("Continue an earlier conversation")),
		),
		s.handleChat,
	)
}

func (s *Server) handleAskQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question := request.GetString("question", "")

	answer, err := s.advisor.Ask(ctx, question)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to ask: %v", err)), nil
	}
	return mcp.NewToolResultText(answer.Text), nil
}

func (s *Server) handleExtractTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	// empty strings are valid inputs, absent ones are not
	todoList, ok := args["todo_list"].(string)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: todo_list"), nil
	}
	dailySchedule, ok := args["daily_schedule"].(string)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: daily_schedule"), nil
	}

	doc, err := s.advisor.ExtractTasks(ctx, todoList, dailySchedule)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to extract tasks: %v", err)), nil
	}
	return mcp.NewToolResultText(string(doc)), nil
}

func (s *Server) handleChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}

	resp, err := s.advisor.Chat(ctx, query, request.GetString("conversation_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to chat: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers registers the SSE transport under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}

// Handler returns the MCP transport as a single http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	MountHTTPHandlers(mux, s.mcpServer)
	return mux
}
