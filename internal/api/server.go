// Package api serves the REST surface: calls, escalations, the knowledge
// cache and the in-process log buffer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/h1v3-io/frontdesk/internal/knowledge"
	"github.com/h1v3-io/frontdesk/internal/logbuf"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

const (
	defaultListLimit = 50
	defaultLogLimit  = 200
)

// Calls reads and closes calls.
type Calls interface {
	Get(ctx context.Context, callID string) (*protocol.Call, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*protocol.Call, error)
	Complete(ctx context.Context, callID string, duration time.Duration) error
}

// Sessions starts and ends calls the way the telephony bridge does, so the
// greeting and wrap-up run as for a real call.
type Sessions interface {
	SimulateCall(ctx context.Context, callID, phone string) (string, error)
	EndCall(ctx context.Context, callID string) bool
}

// Engine answers questions asked on a call.
type Engine interface {
	ProcessQuestion(ctx context.Context, callID, question string) (*protocol.Answer, error)
}

// Escalations reads and resolves help requests.
type Escalations interface {
	Get(ctx context.Context, id string) (*protocol.Escalation, error)
	ListByStatus(ctx context.Context, status protocol.EscalationStatus, limit int) ([]*protocol.Escalation, error)
	Resolve(ctx context.Context, id, answer string) (*protocol.Escalation, error)
}

// Sweeper expires overdue escalations on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Knowledge reads and extends the learned answers.
type Knowledge interface {
	Add(ctx context.Context, entry *protocol.KnowledgeEntry) (*protocol.KnowledgeEntry, error)
	Get(ctx context.Context, id string) (*protocol.KnowledgeEntry, error)
	All(ctx context.Context, limit int) ([]*protocol.KnowledgeEntry, error)
	FindSimilar(ctx context.Context, question string, threshold float64) ([]knowledge.Scored, error)
}

// LogQuerier reads captured log entries.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// Deps are the components the server exposes. Sweeper, Logs, Metrics and
// Webhook may be nil.
type Deps struct {
	Calls       Calls
	Sessions    Sessions
	Engine      Engine
	Escalations Escalations
	Sweeper     Sweeper
	Knowledge   Knowledge
	Logs        LogQuerier
	Metrics     http.Handler
	Webhook     http.Handler
}

// Config holds API server configuration.
type Config struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	// Key enables Bearer auth when set.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
}

// Server is the frontdesk REST API server.
type Server struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new API server.
func NewServer(deps Deps, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	if deps.Webhook != nil {
		// webhooks carry their own per-endpoint auth
		mux.Handle("POST /api/webhook/{name}", deps.Webhook)
	}

	mux.HandleFunc("POST /api/calls", s.requireAuth(s.handleStartCall))
	mux.HandleFunc("GET /api/calls/{id}", s.requireAuth(s.handleGetCall))
	mux.HandleFunc("POST /api/calls/{id}/questions", s.requireAuth(s.handleQuestion))
	mux.HandleFunc("POST /api/calls/{id}/end", s.requireAuth(s.handleEndCall))
	mux.HandleFunc("GET /api/customers/{id}/calls", s.requireAuth(s.handleCustomerCalls))

	mux.HandleFunc("GET /api/escalations", s.requireAuth(s.handleListEscalations))
	mux.HandleFunc("GET /api/escalations/{id}", s.requireAuth(s.handleGetEscalation))
	mux.HandleFunc("POST /api/escalations/{id}/resolve", s.requireAuth(s.handleResolve))
	if deps.Sweeper != nil {
		mux.HandleFunc("POST /api/escalations/sweep", s.requireAuth(s.handleSweep))
	}

	mux.HandleFunc("GET /api/knowledge", s.requireAuth(s.handleListKnowledge))
	mux.HandleFunc("GET /api/knowledge/search", s.requireAuth(s.handleSearchKnowledge))
	mux.HandleFunc("GET /api/knowledge/{id}", s.requireAuth(s.handleGetKnowledge))
	mux.HandleFunc("POST /api/knowledge", s.requireAuth(s.handleAddKnowledge))

	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startCallRequest struct {
	CallID string `json:"call_id,omitempty"`
	Phone  string `json:"phone"`
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.deps.Sessions.SimulateCall(r.Context(), req.CallID, req.Phone)
	if err != nil {
		s.fail(w, err)
		return
	}
	call, err := s.deps.Calls.Get(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.deps.Calls.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

type questionRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decode(w, r, &req) {
		return
	}
	ans, err := s.deps.Engine.ProcessQuestion(r.Context(), r.PathValue("id"), req.Question)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// handleEndCall hangs up a live call through the session layer. A call the
// session layer no longer tracks (e.g. after a restart) is completed
// directly with its elapsed time.
func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.deps.Sessions.EndCall(r.Context(), id) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ending", "call_id": id})
		return
	}

	call, err := s.deps.Calls.Get(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if call.Active() {
		if err := s.deps.Calls.Complete(r.Context(), id, time.Since(call.StartedAt)); err != nil {
			s.fail(w, err)
			return
		}
		call, err = s.deps.Calls.Get(r.Context(), id)
		if err != nil {
			s.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) handleCustomerCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.deps.Calls.ListByCustomer(r.Context(), r.PathValue("id"), queryLimit(r, defaultListLimit))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(calls))
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	status := protocol.EscalationPending
	if v := r.URL.Query().Get("status"); v != "" {
		status = protocol.EscalationStatus(v)
	}
	list, err := s.deps.Escalations.ListByStatus(r.Context(), status, queryLimit(r, defaultListLimit))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Escalations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type resolveRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.deps.Escalations.Resolve(r.Context(), r.PathValue("id"), req.Answer)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Sweeper.Sweep(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (s *Server) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Knowledge.All(r.Context(), queryLimit(r, 0))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (s *Server) handleSearchKnowledge(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	threshold := knowledge.DefaultThreshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		// zero would match every entry and is reserved for the default
		if err != nil || f <= 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "threshold must be greater than 0 and at most 1")
			return
		}
		threshold = f
	}
	hits, err := s.deps.Knowledge.FindSimilar(r.Context(), q, threshold)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(hits))
}

func (s *Server) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	entry, err := s.deps.Knowledge.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type addKnowledgeRequest struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (s *Server) handleAddKnowledge(w http.ResponseWriter, r *http.Request) {
	var req addKnowledgeRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := s.deps.Knowledge.Add(r.Context(), &protocol.KnowledgeEntry{
		Question:   req.Question,
		Answer:     req.Answer,
		Confidence: req.Confidence,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	q := r.URL.Query()
	f := logbuf.Filter{
		MinLevel:  slog.LevelDebug,
		CallID:    q.Get("call_id"),
		Component: q.Get("component"),
		Limit:     queryLimit(r, defaultLogLimit),
	}
	if lvl := q.Get("level"); lvl != "" {
		f.MinLevel = logbuf.ParseLevel(lvl)
	}
	if v := q.Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		}
	}
	writeJSON(w, http.StatusOK, nonNil(s.deps.Logs.Query(f)))
}

// --- Helpers ---

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, protocol.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, protocol.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, protocol.ErrMalformed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, protocol.ErrUnavailable):
		s.logger.Error("api request failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("api request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// nonNil keeps empty lists as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
