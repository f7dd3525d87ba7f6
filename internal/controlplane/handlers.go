package controlplane

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/watchkeeper/warden/internal/registry"
)

func (s *Server) handlePing(req Request) Reply {
	return Reply{Success: true, Message: "pong"}
}

func (s *Server) handleStart(req Request) Reply {
	var opts StartOptions
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			return Reply{Success: false, Message: "invalid options: " + err.Error()}
		}
	}
	env := opts.EnvMap
	if env == nil && len(opts.Env) > 0 {
		env = make(map[string]string, len(opts.Env))
		for _, kv := range opts.Env {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					env[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
	}
	spec := registry.Spec{
		Name:         opts.Name,
		Script:       req.Target,
		Args:         opts.Args,
		Cwd:          opts.Cwd,
		Env:          env,
		Instances:    opts.Instances,
		Watch:        opts.Watch,
		WatchIgnore:  opts.WatchIgnore,
		MemoryLimit:  opts.MemoryLimit,
		CPULimit:     opts.CPULimit,
		RestartDelay: time.Duration(opts.RestartDelay) * time.Millisecond,
		MaxRestarts:  opts.MaxRestarts,
		HealthCheck:  opts.HealthCheck,
		LogFormat:    opts.LogFormat,
		LogOutput:    opts.LogOutput,
		MetricsPort:  opts.MetricsPort,
	}
	if spec.Name == "" {
		spec.Name = req.Target
	}
	e, err := s.sup.Start(spec)
	if err != nil {
		return errReply("start", err)
	}
	return Reply{Success: true, Message: fmt.Sprintf("Process started: %s (%s)", e.Name, e.ID), Data: e}
}

func (s *Server) handleStop(req Request) Reply {
	var opts StopOptions
	if len(req.Options) > 0 {
		_ = json.Unmarshal(req.Options, &opts)
	}
	wait := 10 * time.Second
	if opts.WaitMS > 0 {
		wait = time.Duration(opts.WaitMS) * time.Millisecond
	}
	e, err := s.sup.Stop(req.Target, wait)
	if err != nil {
		return errReply("stop", err)
	}
	return Reply{Success: true, Message: fmt.Sprintf("Process stopping: %s (%s)", e.Name, e.ID), Data: e}
}

func (s *Server) handleRestart(req Request) Reply {
	e, err := s.sup.Restart(req.Target)
	if err != nil {
		return errReply("restart", err)
	}
	return Reply{Success: true, Message: fmt.Sprintf("Process restarted: %s (%s)", e.Name, e.ID), Data: e}
}

func (s *Server) handleStatus(req Request) Reply {
	entries, err := s.sup.Status(req.Target)
	if err != nil {
		return errReply("status", err)
	}
	return Reply{Success: true, Message: fmt.Sprintf("%d entries", len(entries)), Data: entries}
}

func (s *Server) handleLogs(req Request) Reply {
	var opts LogsOptions
	if len(req.Options) > 0 {
		_ = json.Unmarshal(req.Options, &opts)
	}
	n := opts.Lines
	if n <= 0 {
		n = 100
	}
	lines, err := s.sup.Logs(req.Target, n)
	if err != nil {
		return errReply("logs", err)
	}
	return Reply{Success: true, Message: fmt.Sprintf("%d lines", len(lines)), Data: lines}
}

func (s *Server) handleSave(req Request) Reply {
	if err := s.sup.Save(); err != nil {
		return errReply("save", err)
	}
	return Reply{Success: true, Message: "Snapshot saved"}
}

func (s *Server) handleDelete(req Request) Reply {
	if err := s.sup.Delete(req.Target); err != nil {
		return errReply("delete", err)
	}
	return Reply{Success: true, Message: fmt.Sprintf("Process deleted: %s", req.Target)}
}

func (s *Server) handleStartup(req Request) Reply {
	if s.init == nil {
		return Reply{Success: false, Message: "startup: init-system integration unavailable on this platform"}
	}
	if err := s.init.Install(); err != nil {
		return errReply("startup", err)
	}
	return Reply{Success: true, Message: "Startup registered"}
}

func (s *Server) handleUnstartup(req Request) Reply {
	if s.init == nil {
		return Reply{Success: false, Message: "unstartup: init-system integration unavailable on this platform"}
	}
	if err := s.init.Uninstall(); err != nil {
		return errReply("unstartup", err)
	}
	return Reply{Success: true, Message: "Startup unregistered"}
}
