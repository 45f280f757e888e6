// Package mcp exposes a copilot as a Model Context Protocol server over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/copilotz"
	"github.com/aretw0/copilotz/internal/logging"
	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/domain"
)

// ActionsURI is the resource listing the action specs of the copilot.
const ActionsURI = "copilotz://actions"

// Copilot is the part of a copilot served over MCP.
type Copilot interface {
	Chat(ctx context.Context, msg copilotz.Message) (*copilotz.Result, error)
	ActiveTask(ctx context.Context, threadID string) (*domain.Task, error)
	Actions() actions.Set
}

// ChatResponse is the structured result of the chat tool.
type ChatResponse struct {
	ThreadID  string                 `json:"thread_id" jsonschema_description:"The conversation thread"`
	Message   string                 `json:"message" jsonschema_description:"The copilot answer"`
	Functions []*domain.FunctionCall `json:"functions" jsonschema_description:"Functions executed while answering"`
	Task      *domain.Task           `json:"task,omitempty" jsonschema_description:"The thread task after the turn"`
}

// TaskResponse is the structured result of the get_task tool.
type TaskResponse struct {
	Task *domain.Task `json:"task,omitempty" jsonschema_description:"The active task, absent when there is none"`
}

type chatArgs struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}

type taskArgs struct {
	ThreadID string `json:"thread_id"`
}

type actionArgs struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Server wraps a copilot and exposes it as an MCP Server.
type Server struct {
	copilot   Copilot
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(c Copilot, name string, opts ...Option) *Server {
	s := &Server{
		copilot:   c,
		mcpServer: server.NewMCPServer(name, strings.TrimSpace(copilotz.Version)),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Serve reads requests from in and writes responses to out until ctx is
// done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	chatTool := mcp.NewTool("chat",
		mcp.WithDescription("Send a message to the copilot and get its answer. Messages of a thread share history and tasks."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Conversation thread id")),
		mcp.WithString("text", mcp.Required(), mcp.Description("User message")),
		mcp.WithOutputSchema[ChatResponse](),
	)
	s.mcpServer.AddTool(chatTool, mcp.NewStructuredToolHandler(s.handleChat))

	taskTool := mcp.NewTool("get_task",
		mcp.WithDescription("Get the active workflow task of a thread."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Conversation thread id")),
		mcp.WithOutputSchema[TaskResponse](),
	)
	s.mcpServer.AddTool(taskTool, mcp.NewStructuredToolHandler(s.handleGetTask))

	actionTool := mcp.NewTool("call_action",
		mcp.WithDescription("Call one of the copilot actions directly, bypassing the model. See "+ActionsURI+" for the specs."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Action name")),
		mcp.WithObject("args", mcp.Description("Action arguments")),
	)
	s.mcpServer.AddTool(actionTool, mcp.NewTypedToolHandler(s.handleCallAction))
}

func (s *Server) handleChat(ctx context.Context, _ mcp.CallToolRequest, args chatArgs) (ChatResponse, error) {
	if args.ThreadID == "" || args.Text == "" {
		return ChatResponse{}, fmt.Errorf("thread_id and text are required")
	}
	res, err := s.copilot.Chat(ctx, copilotz.Message{ThreadID: args.ThreadID, Text: args.Text})
	if err != nil {
		s.logger.Warn("MCP chat failed", "thread_id", args.ThreadID, "err", err)
		return ChatResponse{}, err
	}
	return ChatResponse{
		ThreadID:  args.ThreadID,
		Message:   res.Message,
		Functions: res.Functions,
		Task:      res.Task,
	}, nil
}

func (s *Server) handleGetTask(ctx context.Context, _ mcp.CallToolRequest, args taskArgs) (TaskResponse, error) {
	task, err := s.copilot.ActiveTask(ctx, args.ThreadID)
	if err != nil {
		return TaskResponse{}, err
	}
	return TaskResponse{Task: task}, nil
}

func (s *Server) handleCallAction(ctx context.Context, _ mcp.CallToolRequest, args actionArgs) (*mcp.CallToolResult, error) {
	action, ok := s.copilot.Actions()[args.Name]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%v: %s", domain.ErrActionNotFound, args.Name)), nil
	}
	if args.Args == nil {
		args.Args = map[string]any{}
	}

	result, err := action.Invoke(ctx, args.Args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(ActionsURI, "Copilot actions",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      ActionsURI,
				MIMEType: "text/plain",
				Text:     strings.Join(s.copilot.Actions().Specs(), "\n"),
			},
		}, nil
	})
}
