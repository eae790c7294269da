package watch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies a change event.
type Kind string

// Event kinds delivered to the OnChange callback.
const (
	KindCreate Kind = "create"
	KindWrite  Kind = "write"
	KindRemove Kind = "remove"
	KindRename Kind = "rename"
)

// Event describes a single observed change in the watched tree.
type Event struct {
	Path string
	Kind Kind
}

// Error reports a failure to establish observation of a source tree.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("watching %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// OnChange receives change events from the watcher's delivery goroutine.
// It may be invoked while a previous event is still being processed;
// callers that need serialization must provide it themselves.
type OnChange func(Event)

// Watcher observes a directory subtree recursively. One Watcher serves one
// session; after Stop it cannot be restarted.
type Watcher struct {
	fw       *fsnotify.Watcher
	root     string
	logger   *slog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// Start begins recursive observation of root and delivers filtered events
// to onChange until Stop is called. It returns an *Error when root does
// not exist or OS watch resources cannot be established.
func Start(root string, onChange OnChange, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, &Error{Path: root, Err: err}
	}

	if !info.IsDir() {
		return nil, &Error{Path: root, Err: fmt.Errorf("not a directory")}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &Error{Path: root, Err: err}
	}

	if err := addRecursive(fw, root); err != nil {
		_ = fw.Close()
		return nil, &Error{Path: root, Err: err}
	}

	w := &Watcher{
		fw:     fw,
		root:   root,
		logger: logger,
		done:   make(chan struct{}),
	}

	go w.deliver(onChange)

	return w, nil
}

// Stop releases all OS-level watch resources. After Stop returns, no
// further onChange invocations occur. Stop is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		_ = w.fw.Close()
		<-w.done
	})
}

// Root returns the watched root directory.
func (w *Watcher) Root() string { return w.root }

// deliver pumps fsnotify events to the callback until the underlying
// watcher is closed.
func (w *Watcher) deliver(onChange OnChange) {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}

			if !isRelevant(event) {
				continue
			}

			// If a new directory was created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = addRecursive(w.fw, event.Name)
				}
			}

			onChange(Event{Path: event.Name, Kind: kindOf(event)})

		case watchErr, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			w.logger.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// kindOf maps an fsnotify op to an Event kind. Ops are checked in the
// order fsnotify reports composites (create before write).
func kindOf(event fsnotify.Event) Kind {
	switch {
	case event.Has(fsnotify.Create):
		return KindCreate
	case event.Has(fsnotify.Remove):
		return KindRemove
	case event.Has(fsnotify.Rename):
		return KindRename
	default:
		return KindWrite
	}
}

// addRecursive walks root and adds all directories to the watcher.
func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			// Skip hidden directories (e.g., .git) and build output.
			if path != root && (strings.HasPrefix(d.Name(), ".") || d.Name() == "build") {
				return filepath.SkipDir
			}

			return fw.Add(path)
		}

		return nil
	})
}

// isRelevant filters out events on files that never affect a build.
func isRelevant(event fsnotify.Event) bool {
	if event.Op == 0 {
		return false
	}

	// Only care about write, create, remove, rename.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Base(event.Name)

	// Ignore editor temporary files and hidden files.
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, "#") {
		return false
	}

	return true
}
