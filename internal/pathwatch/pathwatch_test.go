package pathwatch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestDebounceCollapsesBurstToOneChange(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "app.js")
	if err := os.WriteFile(script, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var calls int
	w, err := New("id1", script, nil, "", func(id string) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := 0; i < 10; i++ {
		if err := os.WriteFile(script, []byte("x"+string(rune('0'+i))), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(debounceDelay + 300*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one debounced change, got %d", calls)
	}
}

func TestShouldIgnoreBuiltinPatterns(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "app.js")
	os.WriteFile(script, []byte("x"), 0o600)

	w, err := New("id1", script, []string{"*.tmp"}, "", func(string) {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if !w.shouldIgnore(filepath.Join(dir, "node_modules")) {
		t.Fatal("expected node_modules to be ignored")
	}
	if !w.shouldIgnore(filepath.Join(dir, "out.tmp")) {
		t.Fatal("expected spec-supplied *.tmp pattern to be ignored")
	}
	if w.shouldIgnore(script) {
		t.Fatal("expected script path itself to not be ignored")
	}
}
