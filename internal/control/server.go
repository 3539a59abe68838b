package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/wslabel/wslabel/internal/engine"
	"github.com/wslabel/wslabel/internal/metrics"
	"github.com/wslabel/wslabel/internal/rename"
	"github.com/wslabel/wslabel/internal/util"
)

// Engine is the part of the relabeling engine exposed over the socket.
type Engine interface {
	PreviewPlan(ctx context.Context) ([]rename.Directive, error)
	Relabel(ctx context.Context, reason string) error
	LastPlan() *engine.Plan
	Lookup() *rename.Lookup
}

// Options configures a Server.
type Options struct {
	// SocketPath overrides DefaultSocketPath.
	SocketPath string
	Metrics    *metrics.Collector
	// ActorState reports the command actor state for status requests.
	ActorState func() string
	DryRun     bool
}

// Server hosts the wslabel control socket and serves requests.
type Server struct {
	engine     Engine
	logger     *util.Logger
	metrics    *metrics.Collector
	actorState func() string
	dryRun     bool
	socketPath string

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new control server.
func NewServer(eng Engine, logger *util.Logger, opts Options) (*Server, error) {
	path := opts.SocketPath
	if path == "" {
		var err error
		path, err = DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Server{
		engine:     eng,
		logger:     logger,
		metrics:    opts.Metrics,
		actorState: opts.ActorState,
		dryRun:     opts.DryRun,
		socketPath: path,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Serve listens on the control socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.logger.Infof("control server listening on %s", s.socketPath)
	defer s.cleanup()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("control accept error: %v", err)
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, context.Canceled
	}
	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Server) prepareSocket() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("remove control socket: %v", err)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	var req Request
	if err := dec.Decode(&req); err != nil {
		s.writeError(conn, fmt.Errorf("decode request: %w", err))
		return
	}
	s.logger.Debugf("control request %q", req.Action)
	switch req.Action {
	case ActionStatus:
		s.handleStatus(conn)
	case ActionPlan:
		s.handlePlan(ctx, conn)
	case ActionRelabel:
		s.handleRelabel(ctx, conn, req.Params)
	case ActionLabels:
		s.handleLabels(conn)
	default:
		s.writeError(conn, fmt.Errorf("unknown action %q", req.Action))
	}
}

func (s *Server) handleStatus(conn net.Conn) {
	status := Status{
		ActorState: "unknown",
		DryRun:     s.dryRun,
		LookupSize: s.engine.Lookup().Len(),
		Metrics:    s.metrics.Snapshot(),
		LastPlan:   s.engine.LastPlan(),
	}
	if s.actorState != nil {
		status.ActorState = s.actorState()
	}
	s.writeOK(conn, status)
}

func (s *Server) handlePlan(ctx context.Context, conn net.Conn) {
	directives, err := s.engine.PreviewPlan(ctx)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	result := PlanResult{Directives: make([]PlanDirective, 0, len(directives))}
	for _, d := range directives {
		result.Directives = append(result.Directives, PlanDirective{
			Num:     d.Num,
			From:    d.OldName,
			To:      d.NewName,
			Command: d.Command(),
		})
	}
	s.writeOK(conn, result)
}

func (s *Server) handleRelabel(ctx context.Context, conn net.Conn, params map[string]any) {
	reason, _ := params["reason"].(string)
	if reason == "" {
		reason = "control request"
	}
	if err := s.engine.Relabel(ctx, reason); err != nil {
		s.logger.Errorf("relabel via control socket failed: %v", err)
		s.writeError(conn, fmt.Errorf("relabel: %w", err))
		return
	}
	s.writeOK(conn, RelabelResult{Plan: s.engine.LastPlan()})
}

func (s *Server) handleLabels(conn net.Conn) {
	s.writeOK(conn, Labels{Entries: s.engine.Lookup().Entries()})
}

func (s *Server) writeOK(conn net.Conn, data any) {
	resp := Response{Status: StatusOK}
	if data != nil {
		resp.Data = data
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) writeError(conn net.Conn, err error) {
	resp := Response{Status: StatusError}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = json.NewEncoder(conn).Encode(resp)
}
