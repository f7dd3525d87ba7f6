// Command warden is the CLI client from spec.md §6: it talks to wardend over
// pkg/client's control-plane socket and prints the daemon's replies.
// Grounded on teacher cmd/provisr's cobra-per-subcommand shape (commands.go,
// process_commands.go), re-pointed from an HTTP API client to pkg/client's
// unix-socket protocol.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/watchkeeper/warden/internal/controlplane"
	"github.com/watchkeeper/warden/pkg/client"
)

const product = "warden"

// Exit codes per spec.md §6: 0 success, 1 daemon-reported failure, 2
// transport/usage failure (daemon unreachable, malformed input).
const (
	exitOK        = 0
	exitFailure   = 1
	exitTransport = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := buildRoot()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitTransport
	}
	return exitCode
}

// exitCode is set by command handlers via setExit before returning nil, since
// cobra's RunE only communicates success/failure through the returned error.
var exitCode = exitOK

func setExit(code int) { exitCode = code }

func newClient() *client.Client {
	return client.New(client.DefaultConfig(product))
}

func printReply(reply *controlplane.Reply) {
	if reply.Data != nil {
		printJSON(reply.Data)
		return
	}
	fmt.Println(reply.Message)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// handle turns a (reply, err) pair from pkg/client into the CLI's exit-code
// convention: a transport error is always exitTransport; a reply with
// success:false is exitFailure; otherwise exitOK.
func handle(reply *controlplane.Reply, err error) error {
	if err != nil {
		setExit(exitTransport)
		return err
	}
	if !reply.Success {
		setExit(exitFailure)
		fmt.Fprintln(os.Stderr, reply.Message)
		return nil
	}
	printReply(reply)
	setExit(exitOK)
	return nil
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "warden",
		Short:         "control client for the warden process supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newSaveCmd(),
		newDeleteCmd(),
		newStartupCmd(),
		newUnstartupCmd(),
	)
	return root
}

func newStartCmd() *cobra.Command {
	var opts controlplane.StartOptions
	var envList []string
	cmd := &cobra.Command{
		Use:   "start <script> [args...]",
		Short: "start a new supervised process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script := args[0]
			opts.Args = args[1:]
			opts.Env = envList
			c := newClient()
			return handle(c.Start(context.Background(), script, opts))
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "process name (defaults to the script path)")
	cmd.Flags().StringVar(&opts.Cwd, "cwd", "", "working directory")
	cmd.Flags().StringArrayVar(&envList, "env", nil, "environment variable in KEY=VALUE form (repeatable)")
	cmd.Flags().IntVar(&opts.Instances, "instances", 1, "instance count recorded in the spec (one process is started)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "restart on file changes under the script's directory")
	cmd.Flags().StringArrayVar(&opts.WatchIgnore, "watch-ignore", nil, "glob to exclude from watch (repeatable)")
	cmd.Flags().Int64Var(&opts.MemoryLimit, "memory-limit", 0, "restart if RSS exceeds this many bytes")
	cmd.Flags().Float64Var(&opts.CPULimit, "cpu-limit", 0, "restart if CPU percent exceeds this")
	cmd.Flags().Int64Var(&opts.RestartDelay, "restart-delay-ms", 0, "base restart backoff delay in milliseconds")
	cmd.Flags().IntVar(&opts.MaxRestarts, "max-restarts", 0, "give up restarting after this many crashes (0 = default of 10)")
	cmd.Flags().StringVar(&opts.HealthCheck, "health-check", "", "HTTP URL to poll for readiness")
	cmd.Flags().StringVar(&opts.LogFormat, "log-format", "", "log line format hint")
	cmd.Flags().StringVar(&opts.LogOutput, "log-output", "", "log destination: file or stdout")
	cmd.Flags().IntVar(&opts.MetricsPort, "metrics-port", 0, "metrics port recorded in the spec (the daemon does not bind or scrape it)")
	return cmd
}

func newStopCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "stop <name>",
		Short: "stop a supervised process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			return handle(c.Stop(context.Background(), args[0], wait))
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "grace period before SIGKILL (default: daemon's configured grace period)")
	return cmd
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "restart a supervised process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			return handle(c.Restart(context.Background(), args[0]))
		},
	}
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "show process status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			c := newClient()
			return handle(c.Status(context.Background(), target))
		},
	}
	// --json is the default output shape (Data is always JSON-encoded); the
	// flag is accepted for compatibility with scripts that pass it explicitly.
	cmd.Flags().Bool("json", true, "output JSON (always on)")
	_ = cmd.Flags().MarkHidden("json")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "show recent log lines for a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			return handle(c.Logs(context.Background(), args[0], lines))
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 100, "number of trailing log lines to fetch")
	return cmd
}

func newSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "flush the running process list to disk immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			return handle(c.Save(context.Background()))
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "stop a process and forget it entirely",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			return handle(c.Delete(context.Background(), args[0]))
		},
	}
}

func newStartupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "startup",
		Short: "install the daemon as a boot-time service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			return handle(c.Startup(context.Background()))
		},
	}
}

func newUnstartupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unstartup",
		Short: "remove the daemon's boot-time service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			return handle(c.Unstartup(context.Background()))
		},
	}
}
