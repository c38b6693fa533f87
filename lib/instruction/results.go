package instruction

import "fmt"

// Status is the outcome of one instruction.
type Status uint8

const (
	// StatusPending: the instruction has not been committed or failed yet.
	StatusPending Status = iota
	// StatusOK: applied and committed.
	StatusOK
	// StatusNotFound: a delete of an absent key. Informational, not an error.
	StatusNotFound
	// StatusConditionFailed: FlagIfVersion did not match the stored version.
	StatusConditionFailed
	// StatusFailed: see Result.Err.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not found"
	case StatusConditionFailed:
		return "condition failed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Result is the outcome of one instruction of a submitted buffer.
type Result struct {
	Status Status
	// Err is set for StatusFailed.
	Err error
	// Version is the version stamped on a put to a versioned database.
	Version uint64
}

// OK reports whether the instruction took effect or was a no-op delete.
func (r Result) OK() bool {
	return r.Status == StatusOK || r.Status == StatusNotFound
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Status, r.Err)
	}
	return r.Status.String()
}
