// Package logsink captures a supervised child's stdout/stderr into
// per-entry log files with the size-based rotation contract from spec.md
// §4.3. The per-entry io.WriteCloser plumbing mirrors the teacher's
// internal/process outCloser/errCloser handling, but the rotation scheme
// itself is hand-rolled rather than delegated to lumberjack: lumberjack
// names rotated files by timestamp, while this contract requires exact
// .N -> .(N+1) shifting capped at a fixed file count (see DESIGN.md).
package logsink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxSizeBytes = 10 * 1024 * 1024 // 10 MiB
	maxFiles     = 4                // app.log.1 .. app.log.4
)

// Level distinguishes stdout (INFO) from stderr (ERROR) lines.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Format selects the per-line framing.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Destination selects where a line ultimately lands.
type Destination string

const (
	DestFile   Destination = "file"
	DestStdout Destination = "stdout"
)

type jsonLine struct {
	Timestamp   time.Time `json:"timestamp"`
	Level       string    `json:"level"`
	ProcessID   string    `json:"processId"`
	ProcessName string    `json:"processName"`
	Message     string    `json:"message"`
}

// Sink owns one entry's append handle and performs rotation and tail reads.
type Sink struct {
	id, name string
	dir      string // <data>/logs/<id>
	format   Format
	dest     Destination
	stdout   io.Writer // used when dest == DestStdout

	mu   sync.Mutex
	file *os.File
	size int64
}

func dataLogDir(dataDir, id string) string { return filepath.Join(dataDir, "logs", id) }

// New opens (creating as needed) the log file for id under dataDir/logs/id.
func New(dataDir, id, name string, format Format, dest Destination, stdout io.Writer) (*Sink, error) {
	s := &Sink{id: id, name: name, dir: dataLogDir(dataDir, id), format: format, dest: dest, stdout: stdout}
	if dest == DestFile {
		if err := s.openCurrent(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Sink) currentPath() string { return filepath.Join(s.dir, "app.log") }

func (s *Sink) openCurrent() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("mkdir log dir: %w", err)
	}
	f, err := os.OpenFile(s.currentPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	s.file = f
	s.size = info.Size()
	return nil
}

// Write frames chunk per the destination's level and writes it, rotating
// the file afterward if it has crossed the size threshold.
func (s *Sink) Write(level Level, chunk []byte) error {
	line := s.frame(level, chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dest == DestStdout {
		_, err := s.stdout.Write(line)
		return err
	}
	if s.file == nil {
		if err := s.openCurrent(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(line)
	s.size += int64(n)
	if err != nil {
		return err
	}
	if s.size >= maxSizeBytes {
		return s.rotate()
	}
	return nil
}

func (s *Sink) frame(level Level, chunk []byte) []byte {
	msg := string(chunk)
	trimmed := strings.TrimRight(msg, "\n")
	if s.format == FormatJSON {
		jl := jsonLine{Timestamp: time.Now(), Level: string(level), ProcessID: s.id, ProcessName: s.name, Message: trimmed}
		b, _ := json.Marshal(jl)
		return append(b, '\n')
	}
	line := fmt.Sprintf("[%s] [%s] [%s] %s", time.Now().UTC().Format(time.RFC3339), level, s.name, trimmed)
	return append([]byte(line), '\n')
}

// rotate closes the current handle, shifts .N -> .(N+1) for N descending
// from maxFiles-1, drops the overflow file, renames app.log -> app.log.1,
// and opens a fresh app.log. Caller must hold s.mu.
func (s *Sink) rotate() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	overflow := fmt.Sprintf("%s.%d", s.currentPath(), maxFiles)
	os.Remove(overflow) // best effort, may not exist

	for n := maxFiles - 1; n >= 1; n-- {
		src := fmt.Sprintf("%s.%d", s.currentPath(), n)
		dst := fmt.Sprintf("%s.%d", s.currentPath(), n+1)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, dst)
		}
	}
	if err := os.Rename(s.currentPath(), s.currentPath()+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate current log: %w", err)
	}
	s.size = 0
	return s.openCurrent()
}

// Close releases the file handle.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Tail returns the last n non-empty lines of the current file.
func Tail(dataDir, id string, n int) ([]string, error) {
	path := filepath.Join(dataLogDir(dataDir, id), "app.log")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	nonEmpty := lines[:0]
	for _, l := range lines {
		if l != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) <= n {
		return nonEmpty, nil
	}
	return nonEmpty[len(nonEmpty)-n:], nil
}
