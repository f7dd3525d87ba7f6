// Package client implements the thin control-plane client from spec.md
// §4.17/§6: it dials the daemon's unix socket, sends one newline-delimited
// JSON request, and decodes the newline-delimited JSON reply. Grounded on
// teacher pkg/client.Client's config/timeout/logger conventions (a Config
// struct, a request timeout, an optional *slog.Logger), swapped from a
// net/http transport to net.Dial("unix", ...).
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/watchkeeper/warden/internal/controlplane"
)

// DefaultTimeout is the client-side per-request ceiling spec.md §4.10 names;
// the server itself enforces none.
const DefaultTimeout = 10 * time.Second

// Config configures a Client.
type Config struct {
	SocketPath string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// DefaultConfig returns the default client configuration for product.
func DefaultConfig(product string) Config {
	return Config{
		SocketPath: controlplane.DefaultSocketPath(product),
		Timeout:    DefaultTimeout,
	}
}

// Client sends one request per dialed connection, matching the CLI's
// one-shot invocation model; a long-lived pipelined connection is left to
// callers that need one (e.g. a future interactive shell).
type Client struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, log: log}
}

// TransportError distinguishes a dial/framing failure from a server-returned
// failure, so callers (the CLI) can pick exit code 2 vs 1 per spec.md §6.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Do sends req and returns the daemon's reply. A dial failure, write
// failure, or malformed reply frame returns a *TransportError; a reply
// frame with success:false is returned as-is (not an error) so callers can
// inspect Message.
func (c *Client) Do(ctx context.Context, req controlplane.Request) (*controlplane.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.cfg.SocketPath)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("dial %s: %w", c.cfg.SocketPath, err)}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("encode request: %w", err)}
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("write request: %w", err)}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, &TransportError{Err: fmt.Errorf("read reply: %w", err)}
		}
		return nil, &TransportError{Err: fmt.Errorf("read reply: connection closed with no reply")}
	}
	var reply controlplane.Reply
	if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode reply: %w", err)}
	}
	return &reply, nil
}

// Ping sends the ping action.
func (c *Client) Ping(ctx context.Context) (*controlplane.Reply, error) {
	return c.Do(ctx, controlplane.Request{Action: "ping"})
}

// Start sends the start action with target as the script path and opts as
// the options payload.
func (c *Client) Start(ctx context.Context, target string, opts controlplane.StartOptions) (*controlplane.Reply, error) {
	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("encode start options: %w", err)}
	}
	return c.Do(ctx, controlplane.Request{Action: "start", Target: target, Options: raw})
}

// Stop sends the stop action.
func (c *Client) Stop(ctx context.Context, target string, wait time.Duration) (*controlplane.Reply, error) {
	raw, _ := json.Marshal(controlplane.StopOptions{WaitMS: wait.Milliseconds()})
	return c.Do(ctx, controlplane.Request{Action: "stop", Target: target, Options: raw})
}

// Restart sends the restart action.
func (c *Client) Restart(ctx context.Context, target string) (*controlplane.Reply, error) {
	return c.Do(ctx, controlplane.Request{Action: "restart", Target: target})
}

// Status sends the status action; target may be "" or "all" for every entry.
func (c *Client) Status(ctx context.Context, target string) (*controlplane.Reply, error) {
	return c.Do(ctx, controlplane.Request{Action: "status", Target: target})
}

// Logs sends the logs action.
func (c *Client) Logs(ctx context.Context, target string, lines int) (*controlplane.Reply, error) {
	raw, _ := json.Marshal(controlplane.LogsOptions{Lines: lines})
	return c.Do(ctx, controlplane.Request{Action: "logs", Target: target, Options: raw})
}

// Save sends the save action.
func (c *Client) Save(ctx context.Context) (*controlplane.Reply, error) {
	return c.Do(ctx, controlplane.Request{Action: "save"})
}

// Delete sends the delete action.
func (c *Client) Delete(ctx context.Context, target string) (*controlplane.Reply, error) {
	return c.Do(ctx, controlplane.Request{Action: "delete", Target: target})
}

// Startup sends the startup action.
func (c *Client) Startup(ctx context.Context) (*controlplane.Reply, error) {
	return c.Do(ctx, controlplane.Request{Action: "startup"})
}

// Unstartup sends the unstartup action.
func (c *Client) Unstartup(ctx context.Context) (*controlplane.Reply, error) {
	return c.Do(ctx, controlplane.Request{Action: "unstartup"})
}
