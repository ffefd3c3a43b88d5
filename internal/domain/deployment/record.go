package deployment

import "time"

// Actor identifies who started a run.
type Actor struct {
	// Hostname is the machine name where the run was started.
	Hostname string
	// Username is the system user who started the run.
	Username string
}

// JobSummary is the persisted outcome of one track.
type JobSummary struct {
	// Track is the track that produced the job.
	Track TrackKind
	// JobID is the remote job identifier, empty when submission failed.
	JobID string
	// State is the terminal track state.
	State TrackState
	// Status is the last remote status seen.
	Status Status
}

// Record is the persisted summary of the last run.
type Record struct {
	// RunID identifies the run in logs.
	RunID string
	// Timestamp is when the run finished.
	Timestamp time.Time
	// Actor is who started the run.
	Actor *Actor
	// CheckOnly is set for validation runs, whose primary job can be quick-deployed.
	CheckOnly bool
	// Jobs are the track outcomes in execution order.
	Jobs []JobSummary
}

// ValidatedJobID returns the job id of a successful validation run, taken from the
// decisive track: the primary one, or the destructive one when it ran alone.
func (r *Record) ValidatedJobID() (string, bool) {
	if r == nil || !r.CheckOnly {
		return "", false
	}

	decisive, ok := r.decisiveJob()
	if !ok || decisive.State != StateSucceeded || decisive.JobID == "" {
		return "", false
	}

	return decisive.JobID, true
}

// decisiveJob returns the primary job, or the destructive job of a run without one.
func (r *Record) decisiveJob() (JobSummary, bool) {
	var (
		destructive JobSummary
		found       bool
	)

	for _, job := range r.Jobs {
		switch job.Track {
		case TrackPrimary:
			return job, true
		case TrackDestructive:
			destructive, found = job, true
		}
	}

	return destructive, found
}
