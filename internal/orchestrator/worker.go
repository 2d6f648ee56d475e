package orchestrator

import "context"

// Worker is a managed pipeline stage. Start must spawn the worker's loop
// and return quickly; Stop must not return until the loop has exited or
// the context expires.
type Worker interface {
	// Name is the stable identifier used for status and dependencies
	Name() string

	// Priority orders startup; lower starts first. Shutdown runs in
	// reverse priority order.
	Priority() int

	// Dependencies names workers that must be RUNNING before this one
	// starts
	Dependencies() []string

	// Start launches the worker's loop
	Start(ctx context.Context) error

	// Stop halts the worker's loop
	Stop(ctx context.Context) error

	// Healthy returns nil when the worker's loop is making progress
	Healthy() error
}

// Orchestrator states
const (
	StateStopped  = "STOPPED"
	StateStarting = "STARTING"
	StateRunning  = "RUNNING"
	StateStopping = "STOPPING"
)

// Worker states
const (
	WorkerPending  = "PENDING"
	WorkerStarting = "STARTING"
	WorkerRunning  = "RUNNING"
	WorkerFailed   = "FAILED"
	WorkerStopped  = "STOPPED"
)

// Failure reasons recorded on FAILED workers
const (
	ReasonStartError            = "START_ERROR"
	ReasonDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	ReasonUnhealthy             = "UNHEALTHY"
)
