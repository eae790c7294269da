// Package session coordinates one run of the devloop orchestrator: the
// initial build, artifact publication, server launch, the debounced
// watch-rebuild loop, and the ordered shutdown sequence.
//
// All session state (the single pending debounce timer, the rebuild
// guard, the watcher handle) is owned by one Controller instance and
// mutated only on its event loop goroutine. Concurrency enters solely as
// messages: change events, timer expiries, process-exit notifications,
// and context cancellation.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hupe1980/devloop/internal/artifact"
	"github.com/hupe1980/devloop/internal/build"
	"github.com/hupe1980/devloop/internal/proc"
	"github.com/hupe1980/devloop/internal/watch"
)

// changeBuffer bounds how many change events may queue behind a busy
// handler before further ones are dropped. Dropped events are harmless:
// any one queued event restarts the debounce window.
const changeBuffer = 64

// Builder runs the external build tool. Satisfied by *build.Invoker.
type Builder interface {
	Invoke(ctx context.Context, projectDir string, forceFull bool) (*build.Outcome, error)
}

// Publisher copies the built artifact into the publish directory.
// Satisfied by *artifact.Publisher.
type Publisher interface {
	Publish(buildOutputDir, publishDir string) (string, error)
}

// Process is the session's view of a launched server process.
type Process interface {
	PID() int
	Done() <-chan struct{}
	ExitCode() int
}

// Supervisor manages the single supervised server process.
type Supervisor interface {
	Launch(executable string, args []string, workingDir string) (Process, error)
	Stop()
	ClearExited()
}

// Watcher is the session's handle on source observation.
type Watcher interface {
	Stop()
}

// StartWatchFunc starts source observation and delivers events to
// onChange until the returned Watcher is stopped.
type StartWatchFunc func(root string, onChange watch.OnChange) (Watcher, error)

// Options configures a session Controller. Paths are absolute, already
// validated by the configuration layer.
type Options struct {
	ProjectDir     string
	SourceDir      string
	BuildOutputDir string
	PublishDir     string
	ServerDir      string

	ServerExecutable string
	ServerArgs       []string

	// Watch enables the rebuild-on-change loop.
	Watch bool

	// RequireWatch makes a watcher start failure fatal instead of a
	// warning.
	RequireWatch bool

	// SkipInitialBuild launches the server without rebuilding; a prior
	// artifact is published when one exists.
	SkipInitialBuild bool

	// Debounce is the quiet period after the last change event before a
	// rebuild is triggered.
	Debounce time.Duration

	Builder    Builder
	Publisher  Publisher
	Supervisor Supervisor

	// StartWatch defaults to the fsnotify-based watcher.
	StartWatch StartWatchFunc

	Logger *slog.Logger

	// Out receives user-facing status lines.
	Out io.Writer
}

// Controller owns one session from startup through shutdown.
type Controller struct {
	opts   Options
	logger *slog.Logger
	out    io.Writer

	mu    sync.Mutex
	state State

	// Loop-owned fields; touched only from Run's goroutine.
	rebuildInFlight bool
	pendingTimer    *time.Timer
	timerGen        int
	watcher         Watcher

	changeC      chan watch.Event
	triggerC     chan int
	shutdownOnce sync.Once
}

// New creates a Controller for one session.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Out == nil {
		opts.Out = os.Stderr
	}

	if opts.StartWatch == nil {
		opts.StartWatch = func(root string, onChange watch.OnChange) (Watcher, error) {
			return watch.Start(root, onChange, opts.Logger)
		}
	}

	return &Controller{
		opts:     opts,
		logger:   opts.Logger,
		out:      opts.Out,
		state:    StateIdle,
		changeC:  make(chan watch.Event, changeBuffer),
		triggerC: make(chan int, 1),
	}
}

// State returns the session's current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run executes the session until ctx is cancelled or a fatal error
// occurs. It always leaves the session Terminated with no live timer,
// watcher, or supervised process.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()

	handle, err := c.startUp(ctx)
	if err != nil {
		return err
	}

	if !c.opts.Watch && handle == nil {
		// Nothing to supervise and nothing to watch.
		return nil
	}

	return c.loop(ctx, handle)
}

// startUp performs the initial build/publish/launch sequence and starts
// the watcher. It returns the launched process handle.
func (c *Controller) startUp(ctx context.Context) (Process, error) {
	if c.opts.SkipInitialBuild {
		// Resume mode: republish a prior artifact when one exists, but
		// never rebuild.
		if artifact.HasArtifact(c.opts.BuildOutputDir) {
			if _, err := c.opts.Publisher.Publish(c.opts.BuildOutputDir, c.opts.PublishDir); err != nil {
				c.logger.Warn("republishing prior artifact failed", slog.String("error", err.Error()))
			}
		} else {
			c.logger.Info("no prior artifact, launching without publishing")
		}
	} else {
		c.setState(StateInitialBuild)

		if err := c.buildAndPublish(ctx, true); err != nil {
			return nil, err
		}
	}

	handle, err := c.opts.Supervisor.Launch(c.opts.ServerExecutable, c.opts.ServerArgs, c.opts.ServerDir)
	if err != nil {
		return nil, &ProcessError{Err: err}
	}

	c.setState(StateRunning)

	if c.opts.Watch {
		w, watchErr := c.opts.StartWatch(c.opts.SourceDir, c.enqueueChange)
		if watchErr != nil {
			if c.opts.RequireWatch {
				return nil, &WatchError{Err: watchErr}
			}

			c.logger.Warn("watching disabled", slog.String("error", watchErr.Error()))
		} else {
			c.watcher = w
			fmt.Fprintf(c.out, "watching %s (debounce=%s)\n", c.opts.SourceDir, c.opts.Debounce)
		}
	}

	return handle, nil
}

// loop is the session's single-threaded event loop. Each message is
// handled to completion before the next is dispatched, which is what
// makes the plain rebuildInFlight flag a sufficient guard.
func (c *Controller) loop(ctx context.Context, handle Process) error {
	var processDone <-chan struct{}
	if handle != nil {
		processDone = handle.Done()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-c.changeC:
			c.handleChange(ev)

		case gen := <-c.triggerC:
			c.handleTrigger(ctx, gen)

		case <-processDone:
			c.opts.Supervisor.ClearExited()
			code := handle.ExitCode()
			c.logger.Info("supervised process exited", slog.Int("exitCode", code))

			if c.watcher == nil {
				// Nothing left to do without a server or a watcher.
				return nil
			}

			fmt.Fprintf(c.out, "server exited (code %d); still watching, press Ctrl-C to end the session\n", code)
			processDone = nil
		}
	}
}

// enqueueChange is the watcher's delivery callback. It never blocks; when
// the loop is saturated the event is dropped, which at worst delays a
// debounce restart until the next event.
func (c *Controller) enqueueChange(ev watch.Event) {
	select {
	case c.changeC <- ev:
	default:
	}
}

// handleChange implements the debounce policy: events during a rebuild
// are dropped outright; otherwise the single pending timer is replaced so
// the window restarts from the latest event.
func (c *Controller) handleChange(ev watch.Event) {
	if c.rebuildInFlight {
		c.logger.Debug("change ignored, rebuild in flight", slog.String("path", ev.Path))
		return
	}

	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
	}

	c.timerGen++
	gen := c.timerGen

	c.pendingTimer = time.AfterFunc(c.opts.Debounce, func() {
		select {
		case c.triggerC <- gen:
		default:
		}
	})

	c.logger.Debug("change observed",
		slog.String("path", ev.Path),
		slog.String("kind", string(ev.Kind)),
	)
}

// handleTrigger runs the rebuild sequence for a fired debounce timer. A
// fired-but-stale timer (superseded by a later event, or raced by
// shutdown) identifies itself by generation and is ignored.
func (c *Controller) handleTrigger(ctx context.Context, gen int) {
	if gen != c.timerGen || c.rebuildInFlight || c.State() != StateRunning {
		return
	}

	c.pendingTimer = nil
	c.rebuildInFlight = true
	c.setState(StateRebuilding)

	if err := c.buildAndPublish(ctx, false); err != nil {
		// Mid-session failures are reported, never fatal.
		fmt.Fprintf(c.out, "[%s] rebuild FAILED: %v\n", time.Now().Format("15:04:05"), err)
		c.logger.Error("rebuild failed", slog.String("error", err.Error()))
	}

	c.rebuildInFlight = false
	c.setState(StateRunning)

	// Events that arrived while the rebuild ran are dropped; the next
	// change after this point starts a fresh debounce window.
	c.drainChanges()
}

// buildAndPublish runs one Build Invoker + Artifact Publisher sequence.
// initial selects the full build and marks errors fatal-phase.
func (c *Controller) buildAndPublish(ctx context.Context, initial bool) error {
	started := time.Now()

	outcome, err := c.opts.Builder.Invoke(ctx, c.opts.ProjectDir, initial)
	if err != nil {
		return &BuildError{Initial: initial, Err: err}
	}

	if !outcome.Success {
		return &BuildError{Initial: initial, Err: errors.New("build tool reported failure")}
	}

	published, err := c.opts.Publisher.Publish(c.opts.BuildOutputDir, c.opts.PublishDir)
	if err != nil {
		return &PublishError{Initial: initial, Err: err}
	}

	fmt.Fprintf(c.out, "[%s] build OK (%s) -> %s\n",
		time.Now().Format("15:04:05"), time.Since(started).Round(time.Millisecond), published)

	return nil
}

// drainChanges drops every queued change event.
func (c *Controller) drainChanges() {
	for {
		select {
		case <-c.changeC:
		default:
			return
		}
	}
}

// shutdown tears the session down in strict order: pending timer, then
// watcher, then supervised process. It is idempotent; a second call is a
// no-op and the end state is always Terminated.
func (c *Controller) shutdown() {
	c.shutdownOnce.Do(func() {
		c.setState(StateShuttingDown)

		if c.pendingTimer != nil {
			c.pendingTimer.Stop()
			c.pendingTimer = nil
		}

		if c.watcher != nil {
			c.watcher.Stop()
			c.watcher = nil
		}

		c.opts.Supervisor.Stop()

		c.setState(StateTerminated)
		c.logger.Info("session terminated")
	})
}

// NewSupervisor adapts a *proc.Supervisor to the session's Supervisor
// interface.
func NewSupervisor(s *proc.Supervisor) Supervisor {
	return procAdapter{s}
}

type procAdapter struct {
	s *proc.Supervisor
}

func (a procAdapter) Launch(executable string, args []string, workingDir string) (Process, error) {
	h, err := a.s.Launch(executable, args, workingDir)
	if err != nil {
		return nil, err
	}

	return h, nil
}

func (a procAdapter) Stop() { a.s.Stop() }

func (a procAdapter) ClearExited() { a.s.ClearExited() }
