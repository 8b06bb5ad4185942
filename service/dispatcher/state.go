package dispatcher

// State tracks a dispatch run through its lifecycle. Transitions only move
// forward: INIT -> DISPATCHING -> DRAINING -> SHUTDOWN, with DISPATCHING
// skipped when the feed never yields a task.
type State int

const (
	// StateInit is the state before Run is called.
	StateInit State = iota
	// StateDispatching indicates tasks are flowing to workers.
	StateDispatching
	// StateDraining indicates no new tasks will be dispatched; the master is
	// waiting for in-flight results.
	StateDraining
	// StateShutdown indicates every worker was told to exit.
	StateShutdown
)

// String returns state name
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateDispatching:
		return "DISPATCHING"
	case StateDraining:
		return "DRAINING"
	case StateShutdown:
		return "SHUTDOWN"
	}
	return "UNKNOWN"
}
