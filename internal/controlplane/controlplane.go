// Package controlplane implements the daemon-side half of spec.md §4.10: a
// local socket accepting newline-delimited JSON requests and replying with
// newline-delimited JSON. Grounded on the request/reply handler-table shape
// of teacher internal/server/router.go (one method per action, structured
// error replies) and on the bufio.Scanner-over-net.Conn framing used by
// other_examples/davidolrik-overseer__companion.go's companion socket.
//
// The wire format calls for a POSIX unix socket and, on Windows, a named
// pipe. Windows 10+ and Go both support AF_UNIX sockets via net.Listen
// ("unix", ...), so rather than add a named-pipe dependency absent from the
// rest of this module's stack, the control plane uses a unix socket
// uniformly; see DESIGN.md.
package controlplane

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/watchkeeper/warden/internal/registry"
	"github.com/watchkeeper/warden/internal/wardenerr"
)

// Request is one command frame per spec.md §6's local IPC wire format.
type Request struct {
	Action  string          `json:"action"`
	Target  string          `json:"target,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

// Reply is one response frame.
type Reply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// StartOptions is the "options" payload for the start action. Target carries
// the script path; Options carries everything else spec.md §6's example
// request shows alongside it (name, watch, env, ...).
type StartOptions struct {
	Name         string            `json:"name"`
	Args         []string          `json:"args,omitempty"`
	Cwd          string            `json:"cwd,omitempty"`
	Env          []string          `json:"env,omitempty"`
	Instances    int               `json:"instances,omitempty"`
	Watch        bool              `json:"watch,omitempty"`
	WatchIgnore  []string          `json:"watch_ignore,omitempty"`
	MemoryLimit  int64             `json:"memory_limit,omitempty"`
	CPULimit     float64           `json:"cpu_limit,omitempty"`
	RestartDelay int64             `json:"restart_delay_ms,omitempty"`
	MaxRestarts  int               `json:"max_restarts,omitempty"`
	HealthCheck  string            `json:"health_check,omitempty"`
	LogFormat    string            `json:"log_format,omitempty"`
	LogOutput    string            `json:"log_output,omitempty"`
	MetricsPort  int               `json:"metrics_port,omitempty"`
	EnvMap       map[string]string `json:"env_map,omitempty"`
}

// StopOptions is the "options" payload for the stop action.
type StopOptions struct {
	WaitMS int64 `json:"wait_ms,omitempty"`
}

// LogsOptions is the "options" payload for the logs action.
type LogsOptions struct {
	Lines int `json:"lines,omitempty"`
}

// Supervisor is the subset of internal/supervisor.Supervisor the control
// plane drives. Declared as an interface so handlers can be tested against
// a fake without spawning real child processes.
type Supervisor interface {
	Start(spec registry.Spec) (*registry.Entry, error)
	Stop(target string, wait time.Duration) (*registry.Entry, error)
	Restart(target string) (*registry.Entry, error)
	Status(target string) ([]*registry.Entry, error)
	Logs(target string, n int) ([]string, error)
	Save() error
	Delete(target string) error
}

// InitSystem is the subset of internal/initsystem the startup/unstartup
// actions drive.
type InitSystem interface {
	Install() error
	Uninstall() error
}

// Server listens on a unix socket and dispatches framed requests to a
// Supervisor and InitSystem, one command at a time per spec.md §4.10's
// single-writer concurrency model (enforced by the Supervisor's own queue,
// not by the Server serializing connections).
type Server struct {
	sup  Supervisor
	init InitSystem
	log  *slog.Logger

	path string
	ln   net.Listener
	wg   sync.WaitGroup
}

// New constructs a Server bound to socketPath (not yet listening).
func New(sup Supervisor, init InitSystem, socketPath string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{sup: sup, init: init, log: log, path: socketPath}
}

// DefaultSocketPath returns the POSIX socket path spec.md §4.10 names:
// /tmp/<product>.sock.
func DefaultSocketPath(product string) string {
	return "/tmp/" + product + ".sock"
}

// Listen opens the unix socket, removing a stale socket file left behind by
// a previous, uncleanly terminated daemon.
func (s *Server) Listen() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return wardenerr.IOErr("controlplane.listen", fmt.Errorf("remove stale socket: %w", err))
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return wardenerr.IOErr("controlplane.listen", err)
	}
	s.ln = ln
	return nil
}

// Serve accepts connections until Close is called. Each connection is
// handled on its own goroutine; actual command execution is still
// serialized by the Supervisor's own queue, so concurrent connections never
// race on Registry state.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight ones to
// drain, then removes the socket file.
func (s *Server) Close() {
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
	os.Remove(s.path)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(Reply{Success: false, Message: "malformed request: " + err.Error()})
			continue
		}
		reply := s.dispatch(req)
		if err := enc.Encode(reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Reply {
	handler, ok := handlers[req.Action]
	if !ok {
		return Reply{Success: false, Message: "Unknown command: " + req.Action}
	}
	return handler(s, req)
}

var handlers = map[string]func(*Server, Request) Reply{
	"ping":      (*Server).handlePing,
	"start":     (*Server).handleStart,
	"stop":      (*Server).handleStop,
	"restart":   (*Server).handleRestart,
	"status":    (*Server).handleStatus,
	"logs":      (*Server).handleLogs,
	"save":      (*Server).handleSave,
	"delete":    (*Server).handleDelete,
	"startup":   (*Server).handleStartup,
	"unstartup": (*Server).handleUnstartup,
}

func errReply(op string, err error) Reply {
	if err == nil {
		return Reply{Success: true}
	}
	return Reply{Success: false, Message: fmt.Sprintf("%s (%s): %v", op, wardenerr.KindOf(err), err)}
}
