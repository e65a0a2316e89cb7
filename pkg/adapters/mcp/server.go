package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/turnpike"
	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// StepsURI is the resource listing the assembled pipeline.
const StepsURI = "turnpike://pipeline/steps"

// TurnResponse is the structured result of the process_turn tool.
type TurnResponse struct {
	ConversationID string `json:"conversation_id" jsonschema_description:"The conversation the turn belongs to"`
	TurnID         string `json:"turn_id" jsonschema_description:"Unique id of this turn"`
	Intent         string `json:"intent" jsonschema_description:"Intent after the turn"`
	State          string `json:"state" jsonschema_description:"State after the turn"`
	OutputKind     string `json:"output_kind" jsonschema_description:"text, json or none"`
	Output         any    `json:"output,omitempty" jsonschema_description:"The reply shown to the user"`
}

// ProcessTurnArgs are the arguments of the process_turn tool.
type ProcessTurnArgs struct {
	ConversationID string `json:"conversation_id"`
	UserText       string `json:"user_text"`
	InputParams    string `json:"input_params,omitempty"`
}

// TraceArgs are the arguments of the get_trace tool.
type TraceArgs struct {
	ConversationID string `json:"conversation_id"`
}

// Engine defines the part of the turn engine the MCP server needs.
type Engine interface {
	Process(ctx context.Context, in domain.EngineContext) (domain.EngineResult, error)
	Trace(ctx context.Context, conversationID string) (*domain.Trace, error)
	Steps() []string
}

var _ Engine = (*turnpike.Engine)(nil)

// Server wraps the turn engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("turnpike-mcp", strings.TrimSpace(turnpike.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the MCP endpoints over SSE on addr until ctx is canceled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		baseURL = "http://" + addr
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, stopping MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: process_turn
	turnTool := mcp.NewTool("process_turn",
		mcp.WithDescription("Process one user utterance as the next turn of a conversation."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation to continue or start")),
		mcp.WithString("user_text", mcp.Required(), mcp.Description("The user utterance")),
		mcp.WithString("input_params", mcp.Description("JSON object of structured input (optional)")),
		mcp.WithOutputSchema[TurnResponse](),
	)
	s.mcpServer.AddTool(turnTool, mcp.NewStructuredToolHandler(s.handleProcessTurn))

	// TOOL: get_trace
	traceTool := mcp.NewTool("get_trace",
		mcp.WithDescription("Get the audit trace of a conversation, grouped by pipeline step."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation to trace")),
		mcp.WithOutputSchema[domain.Trace](),
	)
	s.mcpServer.AddTool(traceTool, mcp.NewStructuredToolHandler(s.handleGetTrace))
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StepsURI, "Assembled Pipeline",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.engine.Steps())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      StepsURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func (s *Server) handleProcessTurn(ctx context.Context, _ mcp.CallToolRequest, args ProcessTurnArgs) (TurnResponse, error) {
	in := domain.EngineContext{
		ConversationID: args.ConversationID,
		UserText:       args.UserText,
	}
	if args.InputParams != "" {
		if err := json.Unmarshal([]byte(args.InputParams), &in.InputParams); err != nil {
			return TurnResponse{}, fmt.Errorf("input_params must be a JSON object: %w", err)
		}
	}

	result, err := s.engine.Process(ctx, in)
	if err != nil {
		s.logger.Warn("MCP process_turn failed", "conversation_id", args.ConversationID, "err", err)
		return TurnResponse{}, err
	}
	return toTurnResponse(result), nil
}

func (s *Server) handleGetTrace(ctx context.Context, _ mcp.CallToolRequest, args TraceArgs) (domain.Trace, error) {
	if strings.TrimSpace(args.ConversationID) == "" {
		return domain.Trace{}, errors.New("conversation_id is required")
	}
	trace, err := s.engine.Trace(ctx, args.ConversationID)
	if err != nil {
		return domain.Trace{}, fmt.Errorf("trace failed: %w", err)
	}
	return *trace, nil
}

func toTurnResponse(r domain.EngineResult) TurnResponse {
	return TurnResponse{
		ConversationID: r.ConversationID,
		TurnID:         r.TurnID,
		Intent:         r.Intent,
		State:          r.State,
		OutputKind:     r.Output.Kind().String(),
		Output:         r.Output.Value(),
	}
}
