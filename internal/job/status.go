package job

// Status identifies where a conversion job is in its lifecycle. A job walks
// the stages in order and a finished status is never left.
type Status string

const (
	StatusPending      Status = "pending"
	StatusExtracting   Status = "extracting"
	StatusSegmenting   Status = "segmenting"
	StatusSynthesizing Status = "synthesizing"
	StatusAssembling   Status = "assembling"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusFailed       Status = "failed"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether the status ends the job.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges. Cancelled
// is reachable from any non-terminal status; no status is ever revisited.
func isValidTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled || to == StatusFailed {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusExtracting
	case StatusExtracting:
		return to == StatusSegmenting
	case StatusSegmenting:
		return to == StatusSynthesizing
	case StatusSynthesizing:
		return to == StatusAssembling
	case StatusAssembling:
		return to == StatusCompleted
	default:
		return false
	}
}
