// Package saves watches the server's saves directory and reports completed save files.
package saves

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/umputun/foreman/pkg/supervisor"
)

// dedupeWindow suppresses repeated events for the same save file. the server
// writes saves through a temp file and renames, which produces event bursts.
const dedupeWindow = 2 * time.Second

// Watcher monitors the saves directory for new or updated save archives and
// dispatches a save event per completed file.
type Watcher struct {
	dir string
	bus *supervisor.Bus

	mu      sync.Mutex
	started bool
	recent  map[string]time.Time
}

// NewWatcher creates a watcher for the given saves directory, creating the
// directory if it does not exist yet.
func NewWatcher(dir string, bus *supervisor.Bus) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create saves dir: %w", err)
	}
	return &Watcher{dir: dir, bus: bus, recent: map[string]time.Time{}}, nil
}

// Start begins watching the saves directory. blocks until the context is
// canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil {
			log.Printf("[WARN] close saves watcher: %v", closeErr)
		}
	}()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch saves dir %s: %w", w.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[WARN] saves watcher: %v", watchErr)
		}
	}
}

// handleEvent dispatches a save event for completed save archives.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".tmp.zip") {
		return
	}

	w.mu.Lock()
	now := time.Now()
	if last, ok := w.recent[name]; ok && now.Sub(last) < dedupeWindow {
		w.mu.Unlock()
		return
	}
	w.recent[name] = now
	w.mu.Unlock()

	w.bus.Dispatch(supervisor.EventSave, ev.Name)
}
