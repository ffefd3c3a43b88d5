package deployment

// TrackKind names one of the two deployment tracks of a run.
type TrackKind string

const (
	// TrackPrimary deploys additions and modifications.
	TrackPrimary TrackKind = "primary"
	// TrackDestructive deploys deletions.
	TrackDestructive TrackKind = "destructive"
)

// TrackState is the state of one submit-and-poll state machine.
type TrackState string

const (
	// StateNotSubmitted is the initial state.
	StateNotSubmitted TrackState = "NotSubmitted"
	// StateSubmitted means a job id was received.
	StateSubmitted TrackState = "Submitted"
	// StatePolling means status requests are being issued.
	StatePolling TrackState = "Polling"
	// StateSucceeded mirrors StatusSucceeded.
	StateSucceeded TrackState = "Succeeded"
	// StateSucceededPartial mirrors StatusSucceededPartial.
	StateSucceededPartial TrackState = "SucceededPartial"
	// StateFailed mirrors StatusFailed.
	StateFailed TrackState = "Failed"
	// StateCanceled mirrors StatusCanceled.
	StateCanceled TrackState = "Canceled"
	// StateTimedOut means polling attempts were exhausted; the remote job may still run.
	StateTimedOut TrackState = "TimedOut"
	// StateSubmissionError means the job was never created.
	StateSubmissionError TrackState = "SubmissionError"
)

// IsTerminal reports whether no further transition can happen.
func (s TrackState) IsTerminal() bool {
	switch s {
	case StateNotSubmitted, StateSubmitted, StatePolling:
		return false
	default:
		return true
	}
}

// StateForStatus maps a done job status to the terminal track state.
// Unknown statuses are treated as failures.
func StateForStatus(status Status) TrackState {
	switch status {
	case StatusSucceeded:
		return StateSucceeded
	case StatusSucceededPartial:
		return StateSucceededPartial
	case StatusCanceled:
		return StateCanceled
	default:
		return StateFailed
	}
}
