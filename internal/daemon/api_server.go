package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/orchestrator"
	"mediaflow/internal/template"
	"mediaflow/internal/workflow"
)

const (
	maxLongPoll      = 25 * time.Second
	defaultEventPage = 200
	maxTemplateBody  = 1 << 20
	wsWriteTimeout   = 10 * time.Second
)

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	upgrader websocket.Upgrader

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      maxLongPoll + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.requireToken(token, h))
	}
	handle("GET /api/status", s.handleStatus)
	handle("GET /api/templates", s.handleTemplates)
	handle("POST /api/templates", s.handleRegisterTemplate)
	handle("GET /api/templates/{id}", s.handleTemplate)
	handle("GET /api/workflows", s.handleWorkflows)
	handle("POST /api/workflows", s.handleStartWorkflow)
	handle("GET /api/workflows/{id}", s.handleWorkflow)
	handle("DELETE /api/workflows/{id}", s.handleArchiveWorkflow)
	handle("POST /api/workflows/{id}/{action}", s.handleWorkflowAction)
	handle("GET /api/events", s.handleEvents)
	handle("GET /api/events/ws", s.handleEventStream)
	handle("GET /metrics", s.daemon.Metrics().Handler().ServeHTTP)
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.TemplateListResponse{Templates: s.daemon.Templates()})
}

func (s *apiServer) handleTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.daemon.Template(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tpl)
}

func (s *apiServer) handleRegisterTemplate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	tpl, err := template.Parse(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_template", err.Error())
		return
	}
	resp, err := s.daemon.RegisterTemplate(r.Context(), tpl)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, resp)
}

func (s *apiServer) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := orchestrator.Filter{
		TemplateID: strings.TrimSpace(query.Get("template")),
		AssetID:    strings.TrimSpace(query.Get("asset")),
	}
	for _, value := range query["state"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		state, ok := workflow.ParseState(trimmed)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown state %q", trimmed))
			return
		}
		filter.States = append(filter.States, state)
	}
	items, err := s.daemon.Workflows(filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkflowListResponse{Workflows: items})
}

func (s *apiServer) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req api.StartWorkflowRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTemplateBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Template) == "" || strings.TrimSpace(req.Asset) == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "template and asset are required")
		return
	}
	wf, err := s.daemon.StartWorkflow(r.Context(), req.Template, req.Asset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.WorkflowResponse{Workflow: wf})
}

func (s *apiServer) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.daemon.Workflow(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkflowResponse{Workflow: wf})
}

func (s *apiServer) handleArchiveWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.ArchiveWorkflow(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleWorkflowAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var err error
	switch r.PathValue("action") {
	case "cancel":
		err = s.daemon.CancelWorkflow(r.Context(), id)
	case "pause":
		err = s.daemon.PauseWorkflow(r.Context(), id)
	case "resume":
		err = s.daemon.ResumeWorkflow(r.Context(), id)
	case "retry":
		wf, retryErr := s.daemon.RetryWorkflow(r.Context(), id)
		if retryErr != nil {
			s.writeDomainError(w, retryErr)
			return
		}
		s.writeJSON(w, http.StatusCreated, api.WorkflowResponse{Workflow: wf})
		return
	default:
		s.writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	wf, err := s.daemon.Workflow(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkflowResponse{Workflow: wf})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultEventPage
	}
	wait := query.Get("wait") == "1" || strings.EqualFold(query.Get("wait"), "true")

	ctx := r.Context()
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxLongPoll)
		defer cancel()
	}
	resp, err := s.daemon.Events(ctx, since, limit, wait)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleEventStream pushes hub events over a websocket until the client goes
// away. The client may pass since to resume from a cursor.
func (s *apiServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	hub := s.daemon.Hub()
	for {
		evts, next, err := hub.Fetch(ctx, since, defaultEventPage, true)
		if err != nil {
			return
		}
		for _, evt := range evts {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				s.log().Debug("event stream closed", logging.Error(err))
				return
			}
		}
		since = next
	}
}

func (s *apiServer) writeDomainError(w http.ResponseWriter, err error) {
	code := api.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "not_found", "template_not_found":
		status = http.StatusNotFound
	case "invalid_template":
		status = http.StatusBadRequest
	case "template_exists", "illegal_transition", "workflow_active":
		status = http.StatusConflict
	}
	if errors.Is(err, ErrNotRunning) || errors.Is(err, orchestrator.ErrClosed) {
		status = http.StatusServiceUnavailable
		code = "unavailable"
	} else if errors.Is(err, orchestrator.ErrNotRetryable) {
		status = http.StatusConflict
		code = "not_retryable"
	}
	if status == http.StatusInternalServerError {
		s.log().Error("api request failed", logging.Error(err))
	}
	s.writeError(w, status, code, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
