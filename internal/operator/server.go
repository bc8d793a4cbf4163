// Package operator — server.go
//
// Unix domain socket control server for the opscore daemon.
//
// Protocol: newline-delimited JSON over a Unix domain socket. This is
// the transport the `status`, `shutdown`, and `reload` CLI subcommands
// speak to a running daemon over; the daemon itself never needs a
// network-facing admin port for these.
//
// Socket path: /run/vivo-opscore/control.sock (configurable).
// Permissions: 0600.
//
// Commands (JSON request -> JSON response):
//
//	{"cmd":"status"}
//	  -> returns every registered module's self-reported health.
//	  -> Response: {"ok":true,"modules":[{"Name":"drawdown","Healthy":true,...}]}
//
//	{"cmd":"reload","section":"routes"}
//	  -> re-runs the hot-reload function registered for that section
//	     (routes|privacy|policy|endpoints). An invalid file on disk
//	     leaves the previous, already-validated value in place.
//	  -> Response: {"ok":true,"section":"routes"}
//
//	{"cmd":"shutdown","grace_ms":5000}
//	  -> triggers ModuleRegistry.ShutdownAll with the given grace budget
//	     (default 5000ms) and cancels the root context.
//	  -> Response: {"ok":true}
//
// Security:
//   - Socket is created with 0600 permissions.
//   - Each connection is handled in its own goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes.
//   - Connection timeout: 10s read, 10s write.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/laylaymen/vivo-opscore/internal/bus"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second

	DefaultSocketPath = "/run/vivo-opscore/control.sock"
)

// HealthSource reports every registered module's health, implemented by
// *bus.ModuleRegistry.
type HealthSource interface {
	HealthSnapshot() []bus.ModuleHealth
}

// Shutdowner performs the graceful-shutdown sequence, implemented by
// *bus.ModuleRegistry plus a root-context cancel func wired by the
// caller.
type Shutdowner interface {
	ShutdownAll(ctx context.Context, graceMs int)
}

// Request is the JSON structure for control commands.
type Request struct {
	Cmd     string `json:"cmd"`                // status | reload | shutdown
	Section string `json:"section,omitempty"`  // reload target
	GraceMs int    `json:"grace_ms,omitempty"` // shutdown grace budget
}

// Response is the JSON structure for control command responses.
type Response struct {
	OK      bool               `json:"ok"`
	Error   string             `json:"error,omitempty"`
	Modules []bus.ModuleHealth `json:"modules,omitempty"`
	Section string             `json:"section,omitempty"`
}

// Server is the opscore control Unix domain socket server.
type Server struct {
	socketPath string
	health     HealthSource
	lifecycle  Shutdowner
	cancelRoot context.CancelFunc
	reloaders  map[string]func() error
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates a control Server. reloaders maps a reload section
// name (routes|privacy|policy|endpoints) to the function that re-runs
// that section's hot-reload, normally the same func passed to
// config.NewWatcher for that file. cancelRoot is called, in addition to
// lifecycle.ShutdownAll, on a shutdown command.
func NewServer(socketPath string, health HealthSource, lifecycle Shutdowner, cancelRoot context.CancelFunc, reloaders map[string]func() error, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Server{
		socketPath: socketPath,
		health:     health,
		lifecycle:  lifecycle,
		cancelRoot: cancelRoot,
		reloaders:  reloaders,
		log:        log.Named("operator"),
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the control socket server, removing any stale
// socket file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("operator: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("control socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(ctx, c)
		}(conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(ctx, req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Cmd {
	case "status":
		return s.cmdStatus()
	case "reload":
		return s.cmdReload(req)
	case "shutdown":
		return s.cmdShutdown(ctx, req)
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdStatus() Response {
	return Response{OK: true, Modules: s.health.HealthSnapshot()}
}

func (s *Server) cmdReload(req Request) Response {
	reload, ok := s.reloaders[req.Section]
	if !ok {
		return Response{OK: false, Error: fmt.Sprintf("no reloadable section %q (valid: routes privacy policy endpoints)", req.Section)}
	}
	if err := reload(); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("operator: reload triggered", zap.String("section", req.Section))
	return Response{OK: true, Section: req.Section}
}

func (s *Server) cmdShutdown(ctx context.Context, req Request) Response {
	grace := req.GraceMs
	if grace <= 0 {
		grace = 5000
	}
	s.log.Info("operator: shutdown requested", zap.Int("grace_ms", grace))
	go func() {
		s.lifecycle.ShutdownAll(context.Background(), grace)
		if s.cancelRoot != nil {
			s.cancelRoot()
		}
	}()
	return Response{OK: true}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
