package deployment

import (
	"errors"
	"fmt"
)

var (
	// ErrTimedOut is returned when polling gives up. The remote job may still be running.
	ErrTimedOut = errors.New("deployment polling timed out")
	// ErrDeploymentFailed is returned when the primary job ended in a non-success state.
	ErrDeploymentFailed = errors.New("deployment failed")
	// ErrUnknownTestLevel is returned for test level names outside the fixed set.
	ErrUnknownTestLevel = errors.New("unknown test level")
)

// SubmissionError reports a submission the platform did not accept.
type SubmissionError struct {
	// StatusCode is the transport status code, zero when the request never completed.
	StatusCode int
	// Fault is the SOAP fault string when one was returned.
	Fault string
	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *SubmissionError) Error() string {
	msg := "deployment submission failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s with status %d", msg, e.StatusCode)
	}

	if e.Fault != "" {
		msg += ": " + e.Fault
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// SecondaryTrackError wraps a destructive track failure. It is logged and
// recorded but never fails the run.
type SecondaryTrackError struct {
	// JobID is the destructive job id, empty when submission failed.
	JobID string
	// State is the terminal state of the destructive track.
	State TrackState
	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *SecondaryTrackError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("destructive track ended in state %s (job %q)", e.State, e.JobID)
	}

	return fmt.Sprintf("destructive track ended in state %s (job %q): %v", e.State, e.JobID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SecondaryTrackError) Unwrap() error {
	return e.Err
}
