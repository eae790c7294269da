// Package build invokes the project's external build tool and classifies
// the result. The tool's own incrementality is relied upon; devloop only
// selects the invocation mode and inspects the exit code.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// diagnosticTailSize bounds how much build output is retained for the
// outcome's diagnostic text. The full output is always streamed through.
const diagnosticTailSize = 4 * 1024

// Outcome is the result of one build-tool invocation. A nonzero exit is
// not an error; it yields Success=false with the output tail attached.
type Outcome struct {
	Success     bool
	Diagnostics string
	Duration    time.Duration
}

// Invoker runs the external build tool synchronously in the project
// directory.
type Invoker struct {
	// Command is the build tool executable.
	Command string

	// Args is the argument list for an incremental build.
	Args []string

	// FullArgs is the argument list for a clean/full build.
	FullArgs []string

	// Stdout and Stderr receive the tool's streamed output. They default
	// to the process's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Invoke runs the build tool in projectDir and waits for it to exit.
// forceFull selects FullArgs over Args. A missing or unstartable tool is
// returned as an error; a tool that runs and fails is an unsuccessful
// Outcome.
func (i *Invoker) Invoke(ctx context.Context, projectDir string, forceFull bool) (*Outcome, error) {
	args := i.Args
	if forceFull {
		args = i.FullArgs
	}

	stdout := i.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	stderr := i.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	tail := newTailBuffer(diagnosticTailSize)

	cmd := exec.CommandContext(ctx, i.Command, args...) //nolint:gosec // command comes from project config
	cmd.Dir = projectDir
	cmd.Stdout = io.MultiWriter(stdout, tail)
	cmd.Stderr = io.MultiWriter(stderr, tail)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The tool ran and reported failure.
			return &Outcome{
				Success:     false,
				Diagnostics: tail.String(),
				Duration:    elapsed,
			}, nil
		}

		// The tool could not be started at all (missing wrapper, not
		// executable, spawn error).
		return nil, fmt.Errorf("starting build tool %q: %w", i.Command, err)
	}

	return &Outcome{
		Success:     true,
		Diagnostics: tail.String(),
		Duration:    elapsed,
	}, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
	}

	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.data)
}
