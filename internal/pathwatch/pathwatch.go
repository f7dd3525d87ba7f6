// Package pathwatch watches an entry's script directory recursively and
// emits a single trailing-edge-debounced change event per burst, grounded
// on the oarkflow-supervisor example's fsnotify-based watchFiles/debounce
// pair: a timer is reset on every qualifying event and only its final fire
// reaches the caller.
package pathwatch

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 500 * time.Millisecond

// BuiltinIgnore is always excluded regardless of spec-supplied patterns.
var BuiltinIgnore = []string{"node_modules", ".git", "logs", "*.log"}

// Watcher watches one entry's directory tree and calls OnChange at most
// once per debounceDelay quiet window.
type Watcher struct {
	id       string
	root     string
	ignore   []string
	dataDir  string
	onChange func(id string)
	log      *slog.Logger

	fsw   *fsnotify.Watcher
	timer *time.Timer
	mu    sync.Mutex
	done  chan struct{}
}

// New creates a watcher rooted at the directory containing script, ignoring
// the union of BuiltinIgnore, the supervisor's own data directory, and
// extraIgnore patterns supplied by the entry's spec.
func New(id, script string, extraIgnore []string, dataDir string, onChange func(id string), log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	root := filepath.Dir(script)
	ignore := append(append([]string{}, BuiltinIgnore...), extraIgnore...)
	w := &Watcher{
		id: id, root: root, ignore: ignore, dataDir: dataDir,
		onChange: onChange, log: log, fsw: fsw, done: make(chan struct{}),
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Warn("pathwatch: failed to watch directory", "dir", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	abs, err := filepath.Abs(path)
	if err == nil && w.dataDir != "" {
		if dataAbs, derr := filepath.Abs(w.dataDir); derr == nil && strings.HasPrefix(abs, dataAbs) {
			return true
		}
	}
	base := filepath.Base(path)
	for _, pat := range w.ignore {
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.debounce()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("pathwatch: watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.onChange(w.id)
	})
}

// Close releases the watcher and stops any pending debounce timer.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
