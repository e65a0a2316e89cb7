package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/turnpike"
	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxBodyBytes caps the size of a turn request body.
const MaxBodyBytes = 1 << 20

// streamBuffer is the per-connection SSE backlog; a slow client loses events beyond it.
const streamBuffer = 64

// Engine defines the part of the turn engine the HTTP API needs.
type Engine interface {
	Process(ctx context.Context, in domain.EngineContext) (domain.EngineResult, error)
	Trace(ctx context.Context, conversationID string) (*domain.Trace, error)
	SubscribeConversation(conversationID string, l ports.AuditListener) func()
}

var _ Engine = (*turnpike.Engine)(nil)

// Server serves the turn API.
type Server struct {
	Engine   Engine
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithGatherer exposes the given metrics at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger configures a logger for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	server := &Server{
		Engine: engine,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", server.GetHealth)
	r.Get("/info", server.GetInfo)
	if server.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}))
	}

	r.Route("/conversations/{conversationID}", func(r chi.Router) {
		r.Post("/turns", server.ProcessTurn)
		r.Get("/trace", server.GetTrace)
		r.Get("/events", server.SubscribeEvents)
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TurnRequest is the body of POST /conversations/{id}/turns.
type TurnRequest struct {
	UserText    string         `json:"user_text"`
	InputParams map[string]any `json:"input_params,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// ProcessTurn handles POST /conversations/{id}/turns.
func (s *Server) ProcessTurn(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var body TurnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		s.logger.Warn("ProcessTurn: Invalid request body", "err", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:        string(domain.CodeInvalidInput),
			Message:     fmt.Sprintf("invalid request body: %v", err),
			Recoverable: true,
		})
		return
	}

	result, err := s.Engine.Process(r.Context(), domain.EngineContext{
		ConversationID: conversationID,
		UserText:       body.UserText,
		InputParams:    body.InputParams,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetTrace handles GET /conversations/{id}/trace.
func (s *Server) GetTrace(w http.ResponseWriter, r *http.Request) {
	trace, err := s.Engine.Trace(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.logger.Error("Trace failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Code:        string(domain.CodeStoreUnavailable),
			Message:     err.Error(),
			Recoverable: true,
		})
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// SubscribeEvents handles GET /conversations/{id}/events (SSE).
// Each audit record of the conversation is sent as an event named after its stage.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	conversationID := chi.URLParam(r, "conversationID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// The channel is never closed: a late delivery after unsubscribe must not panic.
	ch := make(chan []byte, streamBuffer)
	unsubscribe := s.Engine.SubscribeConversation(conversationID, ports.AuditListenerFunc(
		func(_ context.Context, rec *domain.AuditRecord) error {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			msg := fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", rec.ID, rec.Stage, data)
			select {
			case ch <- msg:
				return nil
			default:
				return errors.New("sse client buffer full")
			}
		},
	))
	defer unsubscribe()

	s.logger.Info("SSE: Subscribed", "conversation_id", conversationID)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: Client disconnected", "conversation_id", conversationID)
			return
		case msg := <-ch:
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "turnpike-http",
		"version": strings.TrimSpace(turnpike.Version),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	ee, ok := domain.AsEngineError(err)
	if !ok {
		ee = domain.NewEngineError(domain.CodeStepFailed, "", err)
	}
	status := StatusFor(ee.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Turn failed", "code", ee.Code, "err", err)
	}
	writeJSON(w, status, ErrorResponse{
		Code:        string(ee.Code),
		Message:     err.Error(),
		Recoverable: ee.Recoverable,
	})
}

// StatusFor maps an engine error code to an HTTP status.
func StatusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeConversationBusy:
		return http.StatusConflict
	case domain.CodeTurnCanceled:
		return http.StatusRequestTimeout
	case domain.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
