package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"

	"mediaflow/internal/daemon"
	"mediaflow/internal/logging"
	"mediaflow/internal/orchestrator"
	"mediaflow/internal/workflow"
)

// ServiceName is the JSON-RPC service prefix.
const ServiceName = "Mediaflow"

const maxEventWait = 25 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or restart mediaflowd"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) WorkflowStart(req WorkflowStartRequest, resp *WorkflowResponse) error {
	wf, err := s.daemon.StartWorkflow(s.ctx, req.Template, req.Asset)
	if err != nil {
		return err
	}
	resp.Workflow = wf
	s.log().Info("workflow started via IPC",
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String(logging.FieldTemplateID, wf.TemplateID),
		logging.String(logging.FieldAssetID, wf.AssetID),
		logging.String(logging.FieldEventType, "workflow_start"))
	return nil
}

func (s *service) WorkflowList(req WorkflowListRequest, resp *WorkflowListResponse) error {
	filter := orchestrator.Filter{
		TemplateID: strings.TrimSpace(req.Template),
		AssetID:    strings.TrimSpace(req.Asset),
	}
	for _, value := range req.States {
		state, ok := workflow.ParseState(strings.TrimSpace(value))
		if !ok {
			return fmt.Errorf("unknown workflow state %q", value)
		}
		filter.States = append(filter.States, state)
	}
	items, err := s.daemon.Workflows(filter)
	if err != nil {
		return err
	}
	resp.Workflows = items
	return nil
}

func (s *service) WorkflowShow(req WorkflowRequest, resp *WorkflowResponse) error {
	wf, err := s.daemon.Workflow(req.ID)
	if err != nil {
		return err
	}
	resp.Workflow = wf
	return nil
}

func (s *service) WorkflowCancel(req WorkflowRequest, resp *WorkflowControlResponse) error {
	return s.control(req.ID, "cancel", s.daemon.CancelWorkflow, resp)
}

func (s *service) WorkflowPause(req WorkflowRequest, resp *WorkflowControlResponse) error {
	return s.control(req.ID, "pause", s.daemon.PauseWorkflow, resp)
}

func (s *service) WorkflowResume(req WorkflowRequest, resp *WorkflowControlResponse) error {
	return s.control(req.ID, "resume", s.daemon.ResumeWorkflow, resp)
}

func (s *service) WorkflowRetry(req WorkflowRequest, resp *WorkflowControlResponse) error {
	wf, err := s.daemon.RetryWorkflow(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Workflow = &wf
	s.log().Info("workflow retried via IPC",
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String("retry_of", req.ID),
		logging.String(logging.FieldEventType, "workflow_retry"))
	return nil
}

func (s *service) WorkflowArchive(req WorkflowRequest, _ *WorkflowControlResponse) error {
	if err := s.daemon.ArchiveWorkflow(s.ctx, req.ID); err != nil {
		return err
	}
	s.log().Info("workflow archived via IPC",
		logging.String(logging.FieldWorkflowID, req.ID),
		logging.String(logging.FieldEventType, "workflow_archive"))
	return nil
}

func (s *service) control(id, action string, op func(context.Context, string) error, resp *WorkflowControlResponse) error {
	if err := op(s.ctx, id); err != nil {
		return err
	}
	wf, err := s.daemon.Workflow(id)
	if err != nil {
		return err
	}
	resp.Workflow = &wf
	s.log().Info("workflow control via IPC",
		logging.String(logging.FieldWorkflowID, id),
		logging.String("action", action),
		logging.String(logging.FieldEventType, "workflow_"+action))
	return nil
}

func (s *service) TemplateList(_ TemplateListRequest, resp *TemplateListResponse) error {
	resp.Templates = s.daemon.Templates()
	return nil
}

func (s *service) TemplateShow(req TemplateShowRequest, resp *TemplateShowResponse) error {
	tpl, err := s.daemon.Template(req.ID)
	if err != nil {
		return err
	}
	resp.Template = tpl
	return nil
}

func (s *service) TemplateRegister(req TemplateRegisterRequest, resp *TemplateRegisterResponse) error {
	out, err := s.daemon.RegisterTemplate(s.ctx, req.Template)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	ctx := s.ctx
	if req.Wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxEventWait)
		defer cancel()
	}
	out, err := s.daemon.Events(ctx, req.Since, req.Limit, req.Wait)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		resp.Sent = false
		resp.Message = fmt.Sprintf("%s: %v", message, err)
		return nil
	}
	resp.Sent = sent
	resp.Message = message
	return nil
}
