package logsink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteTextFraming(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "id1", "api", FormatText, DestFile, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Write(LevelInfo, []byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "logs", "id1", "app.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("[INFO] [api] hello")) {
		t.Fatalf("unexpected framing: %s", data)
	}
}

func TestWriteJSONFraming(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "id1", "api", FormatJSON, DestFile, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Write(LevelError, []byte("boom\n")); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "logs", "id1", "app.log"))
	if !bytes.Contains(data, []byte(`"level":"ERROR"`)) || !bytes.Contains(data, []byte(`"message":"boom"`)) {
		t.Fatalf("unexpected json framing: %s", data)
	}
}

func TestRotationShiftsFilesAndCapsCount(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "id1", "api", FormatText, DestFile, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	big := bytes.Repeat([]byte("x"), maxSizeBytes)
	for i := 0; i < maxFiles+2; i++ {
		if err := s.Write(LevelInfo, big); err != nil {
			t.Fatal(err)
		}
	}

	logDir := filepath.Join(dir, "logs", "id1")
	for n := 1; n <= maxFiles; n++ {
		if _, err := os.Stat(filepath.Join(logDir, fmt.Sprintf("app.log.%d", n))); err != nil {
			t.Fatalf("expected app.log.%d to exist: %v", n, err)
		}
	}
	if _, err := os.Stat(filepath.Join(logDir, fmt.Sprintf("app.log.%d", maxFiles+1))); !os.IsNotExist(err) {
		t.Fatalf("expected overflow file app.log.%d to be absent", maxFiles+1)
	}
}

func TestTailReturnsLastNNonEmptyLines(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "id1", "api", FormatText, DestFile, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := s.Write(LevelInfo, []byte(fmt.Sprintf("line-%d\n", i))); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()

	lines, err := Tail(dir, "id1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !bytes.Contains([]byte(lines[1]), []byte("line-4")) {
		t.Fatalf("expected last line to contain line-4, got %q", lines[1])
	}
}
