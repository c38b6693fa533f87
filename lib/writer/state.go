package writer

// State is the lifecycle state of the writer goroutine.
type State int

const (
	// StateIdle: no transaction is open.
	StateIdle State = iota
	// StateBatchInProgress: instructions are applied to the open transaction.
	StateBatchInProgress
	// StateAwaitingMoreWork: the queued work is applied; the writer waits a
	// bounded time for more work or an allow-commit signal.
	StateAwaitingMoreWork
	// StateInterrupted: the transaction is aborted and restarted.
	StateInterrupted
	// StateCommitting: the batch is being committed.
	StateCommitting
	// StateFinishedWithError: the batch was aborted after an error.
	StateFinishedWithError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBatchInProgress:
		return "BatchInProgress"
	case StateAwaitingMoreWork:
		return "AwaitingMoreWork"
	case StateInterrupted:
		return "Interrupted"
	case StateCommitting:
		return "Committing"
	case StateFinishedWithError:
		return "FinishedWithError"
	default:
		return "Unknown"
	}
}
