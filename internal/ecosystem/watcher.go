package ecosystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
)

// PersonaWatcher watches a profiles directory and reloads edited profiles
// into the catalog between ticks. Rapid editor saves are debounced so a
// profile is reloaded once per settle, not once per write.
type PersonaWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	catalog     *Catalog
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats PersonaWatcherStats
}

// PersonaWatcherStats tracks watcher activity for debugging.
type PersonaWatcherStats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	Reloads       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// NewPersonaWatcher creates a watcher for the given profiles directory.
func NewPersonaWatcher(dir string, catalog *Catalog) (*PersonaWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &PersonaWatcher{
		watcher:     watcher,
		catalog:     catalog,
		dir:         dir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (pw *PersonaWatcher) Start(ctx context.Context) error {
	pw.mu.Lock()
	if pw.running {
		pw.mu.Unlock()
		return nil
	}
	pw.running = true
	pw.mu.Unlock()

	if err := pw.watcher.Add(pw.dir); err != nil {
		// Directory may not exist yet; builtins stay in effect
		logging.S(logging.CategoryPersona).Warnf("persona watch failed (dir may not exist): %v", err)
	} else {
		logging.Persona("watching persona directory: %s", pw.dir)
	}

	go pw.run(ctx)

	return nil
}

// Stop stops the watcher and waits for cleanup.
func (pw *PersonaWatcher) Stop() {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		return
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.stopCh)
	<-pw.doneCh

	if err := pw.watcher.Close(); err != nil {
		logging.S(logging.CategoryPersona).Errorf("error closing persona watcher: %v", err)
	}
}

// run is the watcher event loop.
func (pw *PersonaWatcher) run(ctx context.Context) {
	defer close(pw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-pw.stopCh:
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			pw.handleEvent(event)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			logging.S(logging.CategoryPersona).Errorf("persona watcher error: %v", err)
			pw.mu.Lock()
			pw.stats.Errors++
			pw.mu.Unlock()

		case <-debounceTicker.C:
			pw.processDebouncedEvents()
		}
	}
}

// handleEvent records a single filesystem event for debounced processing.
func (pw *PersonaWatcher) handleEvent(event fsnotify.Event) {
	if !isProfileFile(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return // Ignore chmod, etc.
	}

	logging.S(logging.CategoryPersona).Debugf("%s event for %s", eventType, event.Name)

	pw.mu.Lock()
	pw.stats.LastEventTime = time.Now()
	pw.stats.LastEventPath = event.Name
	pw.stats.LastEventType = eventType

	switch eventType {
	case "create":
		pw.stats.FilesCreated++
	case "modify":
		pw.stats.FilesModified++
	case "delete", "rename":
		pw.stats.FilesDeleted++
	}

	pw.debounceMap[event.Name] = time.Now()
	pw.mu.Unlock()
}

// processDebouncedEvents reloads profiles whose events have settled.
func (pw *PersonaWatcher) processDebouncedEvents() {
	pw.mu.Lock()
	now := time.Now()
	toProcess := make([]string, 0)

	for path, eventTime := range pw.debounceMap {
		if now.Sub(eventTime) >= pw.debounceDur {
			toProcess = append(toProcess, path)
			delete(pw.debounceMap, path)
		}
	}
	pw.mu.Unlock()

	for _, path := range toProcess {
		pw.reload(path)
	}
}

// reload applies one settled profile change to the catalog.
func (pw *PersonaWatcher) reload(path string) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Deleted profile: restore the builtin for that node
			node := nodeFromProfilePath(path)
			if node != "" {
				pw.catalog.ResetNode(node)
				logging.Persona("profile removed, builtin restored for %s", node)
			}
			return
		}
		logging.S(logging.CategoryPersona).Errorf("stat %s: %v", path, err)
		pw.mu.Lock()
		pw.stats.Errors++
		pw.mu.Unlock()
		return
	}

	if err := pw.catalog.LoadFile(path); err != nil {
		logging.S(logging.CategoryPersona).Warnf("reload rejected for %s: %v", filepath.Base(path), err)
		pw.mu.Lock()
		pw.stats.Errors++
		pw.mu.Unlock()
		return
	}

	pw.mu.Lock()
	pw.stats.Reloads++
	pw.mu.Unlock()
	logging.Persona("reloaded profile: %s", filepath.Base(path))
}

// nodeFromProfilePath maps "personas/phi.yaml" style names to a node id.
func nodeFromProfilePath(path string) Node {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	n := Node(strings.ToUpper(base))
	if n.Valid() {
		return n
	}
	return ""
}

// GetStats returns the current watcher statistics.
func (pw *PersonaWatcher) GetStats() PersonaWatcherStats {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.stats
}

// IsWatching returns true if the watcher is currently running.
func (pw *PersonaWatcher) IsWatching() bool {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.running
}
