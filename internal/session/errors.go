package session

import "fmt"

// BuildError reports a failed or unstartable build. Initial marks the
// mandatory first build, where the error is fatal to the session;
// watch-triggered rebuild failures are reported and the session continues.
type BuildError struct {
	Initial bool
	Err     error
}

func (e *BuildError) Error() string {
	if e.Initial {
		return fmt.Sprintf("initial build: %v", e.Err)
	}

	return fmt.Sprintf("rebuild: %v", e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// PublishError reports a failed artifact publication, with the same
// initial/rebuild fatality split as BuildError.
type PublishError struct {
	Initial bool
	Err     error
}

func (e *PublishError) Error() string {
	if e.Initial {
		return fmt.Sprintf("publishing initial artifact: %v", e.Err)
	}

	return fmt.Sprintf("publishing rebuilt artifact: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ProcessError reports a failure to launch the supervised process.
// Always fatal to the session.
type ProcessError struct {
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("supervised process: %v", e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// WatchError reports a failure to start source observation. Fatal only
// when watching was explicitly required.
type WatchError struct {
	Err error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("source watching: %v", e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }
