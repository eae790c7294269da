package session

// State is the lifecycle phase of a development session.
type State string

// Session states. A session starts Idle and always ends Terminated.
const (
	StateIdle         State = "idle"
	StateInitialBuild State = "initial-build"
	StateRunning      State = "running"
	StateRebuilding   State = "rebuilding"
	StateShuttingDown State = "shutting-down"
	StateTerminated   State = "terminated"
)
