package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/user"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cruciblehq/popbuild/internal/build"
	"github.com/cruciblehq/popbuild/internal/metrics"
	"github.com/cruciblehq/popbuild/internal/paths"
	"github.com/cruciblehq/popbuild/internal/protocol"
	"github.com/cruciblehq/popbuild/internal/runtime"
)

const (

	// Group name used to grant socket access. Members of this group can
	// connect to the daemon socket without owning the process.
	socketGroup = "popbuild"

	// File mode applied to the Unix socket. Owner and group get read-write
	// (required for connect); others get no access.
	socketMode = 0660

	// Time allowed for the metrics listener to drain on shutdown.
	metricsShutdownTimeout = 5 * time.Second
)

// Holds server configuration.
type Config struct {
	SocketPath          string // Override for the Unix socket path. Empty uses the default.
	ContainerdAddress   string // Containerd socket address. Empty uses [runtime.DefaultAddress].
	ContainerdNamespace string // Containerd namespace for images and containers. Empty uses [runtime.DefaultNamespace].
	MetricsAddress      string // TCP address serving Prometheus metrics. Empty disables the listener.
}

// Runs a build. Replaced in tests.
type runFunc func(ctx context.Context, opts build.Options) (*build.Result, error)

// Listens on a Unix domain socket and dispatches commands.
type Server struct {
	socketPath     string           // Path to the Unix socket file.
	runtime        *runtime.Runtime // Containerd-backed container runtime, nil in tests.
	run            runFunc          // Executes builds.
	metrics        *metrics.Metrics // Build collectors.
	metricsAddress string           // Address of the metrics listener.
	metricsServer  *http.Server     // Metrics listener, nil when disabled.
	listener       net.Listener     // Listener for incoming connections.
	startedAt      time.Time        // Timestamp when the server started.
	done           chan struct{}    // Closed on shutdown.
	stopOnce       sync.Once        // Guards Stop.
	buildMu        sync.Mutex       // Serialises builds; stage container IDs are per resource.

	mu          sync.Mutex // Protects the counters below.
	building    bool       // A build is running.
	builds      int        // Completed builds.
	failures    int        // Failed builds.
	lastOutcome string     // Outcome of the last build.
}

// Creates a new server instance.
//
// The socket is not opened until [Start] is called.
func New(cfg Config) (*Server, error) {
	address := cfg.ContainerdAddress
	if address == "" {
		address = runtime.DefaultAddress
	}

	namespace := cfg.ContainerdNamespace
	if namespace == "" {
		namespace = runtime.DefaultNamespace
	}

	rt, err := runtime.New(address, namespace)
	if err != nil {
		return nil, wrap(ErrServer, err)
	}

	s := newServer(cfg, func(ctx context.Context, opts build.Options) (*build.Result, error) {
		return build.Run(ctx, build.Containerd(rt), opts)
	})
	s.runtime = rt
	return s, nil
}

// Creates a server that executes builds with run.
func newServer(cfg Config, run runFunc) *Server {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = paths.Socket()
	}

	return &Server{
		socketPath:     socketPath,
		run:            run,
		metrics:        metrics.New(prometheus.NewRegistry()),
		metricsAddress: cfg.MetricsAddress,
		done:           make(chan struct{}),
	}
}

// Opens the Unix socket and begins accepting connections.
func (s *Server) Start() error {
	listener, err := listen(s.socketPath)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()

	if err := writePID(); err != nil {
		slog.Warn("failed to write PID file", "error", err)
	}

	if s.metricsAddress != "" {
		if err := s.serveMetrics(); err != nil {
			listener.Close()
			return err
		}
	}

	slog.Info("server listening on socket", "path", s.socketPath)

	go s.accept()
	return nil
}

// Starts the Prometheus listener.
func (s *Server) serveMetrics() error {
	ln, err := net.Listen("tcp", s.metricsAddress)
	if err != nil {
		return wrapf(ErrServer, "failed to listen on %s: %v", s.metricsAddress, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	slog.Info("serving metrics", "address", ln.Addr().String())

	go func() {
		if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Creates the Unix socket listener, removes any stale socket from a previous
// run, and applies permissions.
func listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(paths.Runtime(), paths.DefaultDirMode); err != nil {
		return nil, wrap(ErrServer, err)
	}

	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, wrapf(ErrServer, "failed to listen on %s: %v", socketPath, err)
	}

	if err := setSocketPermissions(socketPath); err != nil {
		listener.Close()
		return nil, err
	}

	return listener, nil
}

// Restricts socket access to owner and group. The daemon does not run as
// root; any user in the popbuild group can also connect.
func setSocketPermissions(socketPath string) error {
	if err := os.Chmod(socketPath, socketMode); err != nil {
		return wrapf(ErrServer, "failed to chmod socket %s", socketPath)
	}

	if g, err := user.LookupGroup(socketGroup); err == nil {
		if gid, err := strconv.Atoi(g.Gid); err == nil {
			if err := os.Chown(socketPath, -1, gid); err != nil {
				slog.Warn("failed to chgrp socket", "group", socketGroup, "error", err)
			}
		}
	} else {
		slog.Debug("socket group not found, socket accessible to owner only", "group", socketGroup)
	}

	return nil
}

// Shuts down the server and cleans up resources. Safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)

		if s.listener != nil {
			s.listener.Close()
		}

		if s.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			s.metricsServer.Shutdown(ctx)
			cancel()
		}

		if s.runtime != nil {
			s.runtime.Close()
		}

		os.Remove(s.socketPath)
		os.Remove(paths.PIDFile())
	})

	return nil
}

// Returns a channel closed when the server stops.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Accepts connections in a loop until the server shuts down.
func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		go s.handle(conn)
	}
}

// Processes a single connection.
//
// Reads one newline-delimited JSON message, dispatches the command, and
// writes the response. The connection is closed after one exchange.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	line, err := reader.ReadBytes('\n')
	if err != nil {
		slog.Error("read error", "error", err)
		return
	}

	env, payload, err := protocol.Decode(line)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	slog.Info("command received", "command", env.Command)

	ctx, cancel := contextWithDisconnect(context.Background(), reader)
	defer cancel()

	s.dispatch(ctx, conn, env.Command, payload)
}

// Routes a command to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, cmd protocol.Command, payload json.RawMessage) {
	switch cmd {
	case protocol.CmdBuild:
		s.handleBuild(ctx, conn, payload)
	case protocol.CmdStatus:
		s.handleStatus(conn)
	case protocol.CmdShutdown:
		s.handleShutdown(conn)
	default:
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{
			Message: fmt.Sprintf("unknown command: %s", cmd),
		})
	}
}

// Writes a JSON envelope response to the connection.
func (s *Server) respond(conn net.Conn, cmd protocol.Command, payload any) {
	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		slog.Error("encode response failed", "error", err)
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}

// Writes the daemon PID to the PID file so the CLI can detect whether the
// daemon is already running and send it signals.
func writePID() error {
	if err := os.MkdirAll(paths.Runtime(), paths.DefaultDirMode); err != nil {
		return err
	}
	return os.WriteFile(paths.PIDFile(), []byte(strconv.Itoa(os.Getpid())), paths.DefaultFileMode)
}

// Returns a derived context that is cancelled when the remote end of the
// connection closes.
//
// Detection works by reading from r in a background goroutine. The read blocks
// until the peer closes the connection, at which point it returns an error and
// the derived context is cancelled. No further data may be expected on r for
// the lifetime of the returned context. The returned [context.CancelFunc] must
// always be called.
func contextWithDisconnect(parent context.Context, r io.Reader) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		buf := make([]byte, 1)
		r.Read(buf)
		cancel()
	}()

	return ctx, cancel
}
