// Package proc supervises the single long-running server process of a
// development session: launch, cooperative stop, timed escalation to
// forced termination, and restart.
package proc

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// stopCommand is the textual shutdown request the server understands on
// its input stream.
const stopCommand = "stop\n"

// Default timings for the stop escalation ladder and restart settle delay.
const (
	DefaultGracePeriod  = 10 * time.Second
	DefaultKillWait     = 2 * time.Second
	DefaultRestartDelay = 500 * time.Millisecond
)

// LaunchError reports that the server executable could not be spawned.
// Launch failures are fatal to the session.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Options configures a Supervisor.
type Options struct {
	// GracePeriod is how long a stopped process may take to exit after
	// the cooperative stop command before SIGTERM is sent.
	GracePeriod time.Duration

	// KillWait is how long after SIGTERM before SIGKILL is sent.
	KillWait time.Duration

	// RestartDelay is the settle time between stop and relaunch, letting
	// the OS release ports and file locks.
	RestartDelay time.Duration

	// Stdin, when non-nil, is forwarded to the process's input stream so
	// the operator can interact with the server console. The supervisor
	// writes the stop command to the same stream.
	Stdin io.Reader

	// Stdout and Stderr are attached to the process. They default to the
	// devloop process's own streams.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

// Handle wraps one supervised process.
type Handle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	done     chan struct{}
	exitCode int
}

// PID returns the process ID.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode returns the process exit code. Only valid after Done is closed.
func (h *Handle) ExitCode() int { return h.exitCode }

func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Supervisor manages the lifecycle of at most one external process.
type Supervisor struct {
	opts Options

	mu     sync.Mutex
	handle *Handle
}

// New creates a Supervisor, filling in default timings and streams.
func New(opts Options) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	if opts.KillWait <= 0 {
		opts.KillWait = DefaultKillWait
	}

	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Supervisor{opts: opts}
}

// Launch spawns the executable with args in workingDir and returns its
// handle without waiting for exit. An existing supervised process is
// stopped first.
func (s *Supervisor) Launch(executable string, args []string, workingDir string) (*Handle, error) {
	s.Stop()

	cmd := exec.Command(executable, args...) //nolint:gosec // executable comes from project config
	cmd.Dir = workingDir
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Executable: executable, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Executable: executable, Err: err}
	}

	h := &Handle{
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		h.exitCode = cmd.ProcessState.ExitCode()
		close(h.done)
	}()

	// Forward the operator's input to the server console. The copy ends
	// when either side closes.
	if s.opts.Stdin != nil {
		go func() {
			_, _ = io.Copy(stdin, s.opts.Stdin)
		}()
	}

	s.opts.Logger.Info("process launched",
		slog.String("executable", executable),
		slog.Int("pid", h.PID()),
	)

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	return h, nil
}

// Stop shuts down the supervised process, escalating from the cooperative
// stop command through SIGTERM to SIGKILL. It never fails: after Stop
// returns, no process remains attached to the supervisor, regardless of
// how it ended. Stop on an idle supervisor is a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		return
	}

	if h.exited() {
		return
	}

	logger := s.opts.Logger

	// Stage 1: cooperative stop via the console command.
	if _, err := io.WriteString(h.stdin, stopCommand); err != nil {
		logger.Debug("stop command not deliverable", slog.String("error", err.Error()))
	}

	select {
	case <-h.done:
		logger.Info("process stopped", slog.Int("exitCode", h.exitCode))
		return
	case <-time.After(s.opts.GracePeriod):
	}

	// Stage 2: the grace period elapsed, terminate.
	logger.Warn("process ignored stop command, sending SIGTERM", slog.Int("pid", h.PID()))
	_ = h.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-h.done:
		return
	case <-time.After(s.opts.KillWait):
	}

	// Stage 3: still alive, kill.
	logger.Warn("process ignored SIGTERM, sending SIGKILL", slog.Int("pid", h.PID()))
	_ = h.cmd.Process.Kill()
	<-h.done
}

// IsRunning reports whether a supervised process is currently alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	return h != nil && !h.exited()
}

// Handle returns the current process handle, or nil when nothing is
// supervised.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.handle
}

// ClearExited drops the handle if its process has already exited. It is
// how the session acknowledges an observed voluntary exit.
func (s *Supervisor) ClearExited() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil && s.handle.exited() {
		s.handle = nil
	}
}

// Restart stops the current process, waits briefly for OS resources to
// release, and launches anew.
func (s *Supervisor) Restart(executable string, args []string, workingDir string) (*Handle, error) {
	s.Stop()
	time.Sleep(s.opts.RestartDelay)

	return s.Launch(executable, args, workingDir)
}
