package pipeline

// State is the pipeline lifecycle. Querying is not a stored state: questions
// run concurrently against the immutable index while the pipeline stays Ready.
type State int32

const (
	StateUninitialized State = iota
	StateIndexing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIndexing:
		return "indexing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
