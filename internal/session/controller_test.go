package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/devloop/internal/build"
	"github.com/hupe1980/devloop/internal/watch"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeBuilder struct {
	mu      sync.Mutex
	calls   []bool // forceFull per call
	outcome *build.Outcome
	err     error
	delay   time.Duration
}

func (b *fakeBuilder) Invoke(_ context.Context, _ string, forceFull bool) (*build.Outcome, error) {
	b.mu.Lock()
	b.calls = append(b.calls, forceFull)
	outcome, err, delay := b.outcome, b.err, b.delay
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if err != nil {
		return nil, err
	}

	if outcome != nil {
		return outcome, nil
	}

	return &build.Outcome{Success: true}, nil
}

func (b *fakeBuilder) setOutcome(o *build.Outcome) {
	b.mu.Lock()
	b.outcome = o
	b.mu.Unlock()
}

func (b *fakeBuilder) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.calls)
}

type fakePublisher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakePublisher) Publish(_, publishDir string) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.err != nil {
		return "", p.err
	}

	return publishDir + "/plugin.jar", nil
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls
}

type fakeProcess struct {
	done chan struct{}
	code int
}

func (p *fakeProcess) PID() int              { return 4242 }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitCode() int         { return p.code }

type fakeSupervisor struct {
	mu        sync.Mutex
	launches  int
	stops     int
	launchErr error
	proc      *fakeProcess
}

func (s *fakeSupervisor) Launch(_ string, _ []string, _ string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.launchErr != nil {
		return nil, s.launchErr
	}

	s.launches++
	if s.proc == nil {
		s.proc = &fakeProcess{done: make(chan struct{})}
	}

	return s.proc, nil
}

func (s *fakeSupervisor) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeSupervisor) ClearExited() {}

func (s *fakeSupervisor) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stops
}

func (s *fakeSupervisor) launchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.launches
}

type fakeWatcher struct {
	stopped atomic.Bool
}

func (w *fakeWatcher) Stop() { w.stopped.Store(true) }

// harness bundles a controller with its fakes and the captured onChange
// callback so tests can inject events.
type harness struct {
	builder    *fakeBuilder
	publisher  *fakePublisher
	supervisor *fakeSupervisor
	watcher    *fakeWatcher

	mu       sync.Mutex
	onChange watch.OnChange

	ctrl *Controller
}

func (h *harness) emit(path string) {
	h.mu.Lock()
	fn := h.onChange
	h.mu.Unlock()

	if fn != nil {
		fn(watch.Event{Path: path, Kind: watch.KindWrite})
	}
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		builder:    &fakeBuilder{},
		publisher:  &fakePublisher{},
		supervisor: &fakeSupervisor{},
		watcher:    &fakeWatcher{},
	}

	buildDir := t.TempDir()

	opts := Options{
		ProjectDir:       t.TempDir(),
		SourceDir:        t.TempDir(),
		BuildOutputDir:   buildDir,
		PublishDir:       t.TempDir(),
		ServerDir:        t.TempDir(),
		ServerExecutable: "java",
		Watch:            true,
		Debounce:         80 * time.Millisecond,
		Builder:          h.builder,
		Publisher:        h.publisher,
		Supervisor:       h.supervisor,
		Out:              io.Discard,
		StartWatch: func(_ string, onChange watch.OnChange) (Watcher, error) {
			h.mu.Lock()
			h.onChange = onChange
			h.mu.Unlock()

			return h.watcher, nil
		},
	}

	if mutate != nil {
		mutate(&opts)
	}

	h.ctrl = New(opts)

	return h
}

// start runs the controller in the background and returns a cancel
// function plus the Run result channel.
func (h *harness) start(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()

	// Wait for startup to finish.
	require.Eventually(t, func() bool {
		s := h.ctrl.State()
		return s == StateRunning || s == StateTerminated
	}, 2*time.Second, 5*time.Millisecond)

	return cancel, done
}

// writeFile drops a placeholder artifact into dir.
func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("jar"), 0o644))
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not terminate in time")
		return nil
	}
}

// ---------------------------------------------------------------------------
// Startup sequencing
// ---------------------------------------------------------------------------

func TestRun_InitialBuildPublishLaunch(t *testing.T) {
	h := newHarness(t, nil)
	cancel, done := h.start(t)

	assert.Equal(t, 1, h.builder.callCount())
	assert.True(t, h.builder.calls[0], "initial build must be a full build")
	assert.Equal(t, 1, h.publisher.callCount())
	assert.Equal(t, 1, h.supervisor.launchCount())
	assert.Equal(t, StateRunning, h.ctrl.State())

	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, StateTerminated, h.ctrl.State())
}

func TestRun_InitialBuildFailureIsFatal(t *testing.T) {
	h := newHarness(t, func(o *Options) {})
	h.builder.outcome = &build.Outcome{Success: false, Diagnostics: "compile error"}

	err := h.ctrl.Run(context.Background())
	require.Error(t, err)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.True(t, buildErr.Initial)

	assert.Equal(t, 0, h.supervisor.launchCount(), "server must never launch after a failed initial build")
	assert.Equal(t, StateTerminated, h.ctrl.State())
}

func TestRun_InitialPublishFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.publisher.err = errors.New("disk full")

	err := h.ctrl.Run(context.Background())
	require.Error(t, err)

	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.True(t, pubErr.Initial)
	assert.Equal(t, 0, h.supervisor.launchCount())
}

func TestRun_LaunchFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.supervisor.launchErr = errors.New("executable not found")

	err := h.ctrl.Run(context.Background())
	require.Error(t, err)

	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, StateTerminated, h.ctrl.State())
}

// ---------------------------------------------------------------------------
// Resume mode
// ---------------------------------------------------------------------------

func TestRun_SkipInitialBuild_NoArtifact(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.SkipInitialBuild = true
		o.Watch = false
	})

	cancel, done := h.start(t)

	assert.Equal(t, 0, h.builder.callCount(), "resume mode must not build")
	assert.Equal(t, 0, h.publisher.callCount(), "nothing to publish without a prior artifact")
	assert.Equal(t, 1, h.supervisor.launchCount())

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestRun_SkipInitialBuild_PriorArtifactPublished(t *testing.T) {
	var buildDir string

	h := newHarness(t, func(o *Options) {
		o.SkipInitialBuild = true
		o.Watch = false
		buildDir = o.BuildOutputDir
	})

	writeFile(t, buildDir, "plugin-0.9.jar")

	cancel, done := h.start(t)

	assert.Equal(t, 0, h.builder.callCount())
	assert.Equal(t, 1, h.publisher.callCount(), "prior artifact must be republished")

	cancel()
	require.NoError(t, waitDone(t, done))
}

// ---------------------------------------------------------------------------
// Watcher failures
// ---------------------------------------------------------------------------

func TestRun_WatchStartFailure_Required(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.RequireWatch = true
		o.StartWatch = func(string, watch.OnChange) (Watcher, error) {
			return nil, errors.New("inotify limit reached")
		}
	})

	err := h.ctrl.Run(context.Background())
	require.Error(t, err)

	var watchErr *WatchError
	require.ErrorAs(t, err, &watchErr)

	// The already-launched server must still be torn down.
	assert.Positive(t, h.supervisor.stopCount())
	assert.Equal(t, StateTerminated, h.ctrl.State())
}

func TestRun_WatchStartFailure_Optional(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.StartWatch = func(string, watch.OnChange) (Watcher, error) {
			return nil, errors.New("inotify limit reached")
		}
	})

	cancel, done := h.start(t)

	assert.Equal(t, StateRunning, h.ctrl.State(), "watch failure is only a warning when not required")

	cancel()
	require.NoError(t, waitDone(t, done))
}

// ---------------------------------------------------------------------------
// Debounce behaviour
// ---------------------------------------------------------------------------

func TestDebounce_BurstYieldsOneRebuild(t *testing.T) {
	h := newHarness(t, nil)
	cancel, done := h.start(t)
	defer cancel()

	// Burst of events spaced well below the 80ms debounce window.
	for i := 0; i < 10; i++ {
		h.emit("src/Main.kt")
		time.Sleep(10 * time.Millisecond)
	}

	// Exactly one rebuild (on top of the initial build) fires after the
	// window elapses.
	require.Eventually(t, func() bool {
		return h.builder.callCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// And no further rebuilds follow.
	time.Sleep(3 * h.ctrl.opts.Debounce)
	assert.Equal(t, 2, h.builder.callCount())
	assert.False(t, h.builder.calls[1], "watch-triggered rebuild must be incremental")
	assert.Equal(t, 2, h.publisher.callCount())

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestDebounce_RebuildBeginsAfterLastEvent(t *testing.T) {
	h := newHarness(t, nil)
	cancel, done := h.start(t)
	defer cancel()

	h.emit("src/Main.kt")
	last := time.Now()

	require.Eventually(t, func() bool {
		return h.builder.callCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	// The rebuild must not begin before the debounce window elapsed.
	assert.GreaterOrEqual(t, time.Since(last), h.ctrl.opts.Debounce)

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestDebounce_EventsDuringRebuildAreDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.builder.delay = 150 * time.Millisecond

	cancel, done := h.start(t)
	defer cancel()

	h.emit("src/Main.kt")

	// Wait for the rebuild to start, then flood events while it runs.
	require.Eventually(t, func() bool {
		return h.builder.callCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 20; i++ {
		h.emit("src/Other.kt")
		time.Sleep(5 * time.Millisecond)
	}

	// Give any (incorrect) extra rebuild time to show up.
	time.Sleep(300*time.Millisecond + h.ctrl.opts.Debounce)
	assert.Equal(t, 2, h.builder.callCount(),
		"events during a rebuild must not schedule another rebuild")

	// A fresh event after completion starts a new window.
	h.emit("src/Later.kt")
	require.Eventually(t, func() bool {
		return h.builder.callCount() == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestRebuild_FailureKeepsSessionAlive(t *testing.T) {
	h := newHarness(t, nil)
	cancel, done := h.start(t)
	defer cancel()

	// Make the next rebuild fail, then recover.
	h.builder.setOutcome(&build.Outcome{Success: false, Diagnostics: "syntax error"})
	h.emit("src/Main.kt")

	require.Eventually(t, func() bool {
		return h.builder.callCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.ctrl.State() == StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	// The session is still watching: another event triggers a new attempt.
	h.builder.setOutcome(&build.Outcome{Success: true})
	h.emit("src/Main.kt")

	require.Eventually(t, func() bool {
		return h.builder.callCount() == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, done))
}

// ---------------------------------------------------------------------------
// Process exit
// ---------------------------------------------------------------------------

func TestRun_ProcessExit_NoWatcher_EndsSession(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Watch = false })
	cancel, done := h.start(t)
	defer cancel()

	close(h.supervisor.proc.done)

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, StateTerminated, h.ctrl.State())
}

func TestRun_ProcessExit_WithWatcher_SessionStaysAlive(t *testing.T) {
	h := newHarness(t, nil)
	cancel, done := h.start(t)

	close(h.supervisor.proc.done)

	// Session keeps watching; rebuilds still work.
	h.emit("src/Main.kt")
	require.Eventually(t, func() bool {
		return h.builder.callCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, done))
}

// ---------------------------------------------------------------------------
// Shutdown ordering and idempotency
// ---------------------------------------------------------------------------

func TestShutdown_OrderedTeardown(t *testing.T) {
	h := newHarness(t, nil)
	cancel, done := h.start(t)

	cancel()
	require.NoError(t, waitDone(t, done))

	assert.True(t, h.watcher.stopped.Load(), "watcher must be stopped")
	assert.Positive(t, h.supervisor.stopCount(), "supervised process must be stopped")
	assert.Equal(t, StateTerminated, h.ctrl.State())
	assert.Nil(t, h.ctrl.pendingTimer, "no live timer may remain")
}

func TestShutdown_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	cancel, done := h.start(t)

	cancel()
	require.NoError(t, waitDone(t, done))

	stops := h.supervisor.stopCount()

	// A second shutdown must not re-enter the sequence or panic.
	h.ctrl.shutdown()

	assert.Equal(t, StateTerminated, h.ctrl.State())
	assert.Equal(t, stops, h.supervisor.stopCount())
}
