package cadence

import "errors"

var (
	// Wiring errors.
	ErrNoCatalog      = errors.New("cadence: no catalog configured")
	ErrNoClusterStore = errors.New("cadence: no cluster store configured")
	ErrNoTransport    = errors.New("cadence: no broadcast transport configured")
	ErrNoExecutor     = errors.New("cadence: no executor configured")
	ErrInvalidConfig  = errors.New("cadence: invalid configuration")

	// Not found errors.
	ErrJobNotFound      = errors.New("cadence: job definition not found")
	ErrWorkflowNotFound = errors.New("cadence: workflow definition not found")
	ErrRunNotFound      = errors.New("cadence: run not found")
	ErrNodeNotFound     = errors.New("cadence: node not found")

	// State errors.
	ErrInvalidTransition = errors.New("cadence: invalid state transition")
	ErrWorkflowOffline   = errors.New("cadence: workflow is not online")
	ErrCyclicGraph       = errors.New("cadence: dependency graph contains a cycle")
	ErrUnknownJob        = errors.New("cadence: dependency graph references unknown job")

	// Ownership errors.
	ErrBucketNotOwned = errors.New("cadence: bucket not owned by this node")
	ErrLeaseNotHeld   = errors.New("cadence: bucket lease not held")

	// Broadcast errors.
	ErrDuplicateEvent  = errors.New("cadence: duplicate broadcast event")
	ErrUnknownOp       = errors.New("cadence: unknown broadcast op")
	ErrTransportClosed = errors.New("cadence: broadcast transport closed")

	// Executor errors.
	ErrExecutorRejected = errors.New("cadence: executor rejected dispatch")
	ErrNoEndpoints      = errors.New("cadence: no live executor endpoints")

	// Actor errors.
	ErrActorStopped = errors.New("cadence: scheduling actor stopped")
)
