// Package initsystem writes and removes the per-OS boot-time launcher unit
// described in spec.md §6: a macOS LaunchAgent plist or a Linux systemd user
// unit, both set to restart the daemon unconditionally and run it at login.
// Grounded on the Daemon Skeleton's own file-writing conventions
// (os.MkdirAll + os.WriteFile with explicit modes, as seen throughout
// teacher's process.Process.WritePIDFile).
package initsystem

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"
)

// Writer installs and removes the boot-time launcher unit for product,
// pointed at execPath (the wardend binary) invoked with args.
type Writer struct {
	Product  string
	ExecPath string
	Args     []string
	HomeDir  string
}

// New constructs a Writer, resolving the user's home directory.
func New(product, execPath string, args []string) (*Writer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return &Writer{Product: product, ExecPath: execPath, Args: args, HomeDir: home}, nil
}

// Install writes the unit file for the current GOOS and, where the
// platform has a load step (launchd), loads it.
func (w *Writer) Install() error {
	switch runtime.GOOS {
	case "darwin":
		return w.installLaunchd()
	case "linux":
		return w.installSystemd()
	default:
		return fmt.Errorf("initsystem: unsupported platform %q", runtime.GOOS)
	}
}

// Uninstall unloads (where applicable) and removes the unit file.
func (w *Writer) Uninstall() error {
	switch runtime.GOOS {
	case "darwin":
		return w.uninstallLaunchd()
	case "linux":
		return w.uninstallSystemd()
	default:
		return fmt.Errorf("initsystem: unsupported platform %q", runtime.GOOS)
	}
}

func (w *Writer) launchdPath() string {
	return filepath.Join(w.HomeDir, "Library", "LaunchAgents", w.Product+".plist")
}

func (w *Writer) systemdPath() string {
	return filepath.Join(w.HomeDir, ".config", "systemd", "user", w.Product+".service")
}

var launchdTemplate = template.Must(template.New("launchd").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Product}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.ExecPath}}</string>
{{- range .Args}}
		<string>{{.}}</string>
{{- end}}
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
</dict>
</plist>
`))

func (w *Writer) installLaunchd() error {
	path := w.launchdPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir LaunchAgents dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create plist: %w", err)
	}
	defer f.Close()
	if err := launchdTemplate.Execute(f, w); err != nil {
		return fmt.Errorf("render plist: %w", err)
	}
	// launchctl's absence (stripped-down CI images, containers) is a
	// non-fatal background condition per spec.md §7; the plist itself is
	// still written and will load on the next real login.
	if err := exec.Command("launchctl", "load", path).Run(); err != nil {
		return nil
	}
	return nil
}

func (w *Writer) uninstallLaunchd() error {
	path := w.launchdPath()
	_ = exec.Command("launchctl", "unload", path).Run()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

var systemdTemplate = template.Must(template.New("systemd").Parse(`[Unit]
Description={{.Product}} process supervisor

[Service]
ExecStart={{.ExecPath}}{{range .Args}} {{.}}{{end}}
Restart=always

[Install]
WantedBy=default.target
`))

func (w *Writer) installSystemd() error {
	path := w.systemdPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir systemd user dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create unit file: %w", err)
	}
	defer f.Close()
	if err := systemdTemplate.Execute(f, w); err != nil {
		return fmt.Errorf("render unit file: %w", err)
	}
	// systemctl may be unavailable (no user session bus, containers); the
	// unit file itself is still in place for the next session that has one.
	if err := exec.Command("systemctl", "--user", "daemon-reload").Run(); err != nil {
		return nil
	}
	_ = exec.Command("systemctl", "--user", "enable", "--now", w.Product+".service").Run()
	return nil
}

func (w *Writer) uninstallSystemd() error {
	path := w.systemdPath()
	_ = exec.Command("systemctl", "--user", "disable", "--now", w.Product+".service").Run()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()
	return nil
}
