package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/metadeploy/internal/domain/deployment"
	"github.com/oshokin/metadeploy/internal/logger"
)

const (
	// DefaultMaxAttempts is the number of status requests issued before giving up.
	DefaultMaxAttempts = 120
	// DefaultBaseDelay is multiplied by the attempt number to get the wait between polls.
	DefaultBaseDelay = 5 * time.Second
	// DefaultMaxDelayMultiplier caps the attempt multiplier of the poll delay.
	DefaultMaxDelayMultiplier = 6
)

var (
	errAlreadySubmitted = errors.New("track was already submitted")
	errStatusRequest    = errors.New("status request failed")
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// TrackOption configures a track.
type TrackOption func(*Track)

// WithSleeper replaces the wait between status requests.
func WithSleeper(sleeper Sleeper) TrackOption {
	return func(t *Track) {
		if sleeper != nil {
			t.sleep = sleeper
		}
	}
}

// WithPollSchedule replaces the number of attempts and the delay progression.
// Non-positive values keep the defaults.
func WithPollSchedule(maxAttempts int, baseDelay time.Duration, maxMultiplier int) TrackOption {
	return func(t *Track) {
		if maxAttempts > 0 {
			t.maxAttempts = maxAttempts
		}

		if baseDelay > 0 {
			t.baseDelay = baseDelay
		}

		if maxMultiplier > 0 {
			t.maxMultiplier = maxMultiplier
		}
	}
}

// TrackResult is the outcome of one track.
type TrackResult struct {
	// Kind is the track that produced the result.
	Kind deployment.TrackKind
	// JobID is the remote job id, empty when submission failed.
	JobID string
	// State is the state the track stopped in.
	State deployment.TrackState
	// Job is the last status seen, nil when no poll completed.
	Job *deployment.Job
}

// Succeeded reports whether the track ended in a success state.
func (r *TrackResult) Succeeded() bool {
	return r != nil && (r.State == deployment.StateSucceeded || r.State == deployment.StateSucceededPartial)
}

// Summary converts the result into its persisted form.
func (r *TrackResult) Summary() deployment.JobSummary {
	summary := deployment.JobSummary{
		Track: r.Kind,
		JobID: r.JobID,
		State: r.State,
	}

	if r.Job != nil {
		summary.Status = r.Job.Status
	}

	return summary
}

// Track is the submit and poll state machine of one archive.
// It is not safe for concurrent use.
type Track struct {
	// kind names the track in logs and results.
	kind deployment.TrackKind
	// transport performs the remote calls.
	transport Transport
	// apiVersion selects the remote endpoints.
	apiVersion string
	// options are sent with the submission.
	options deployment.Options

	// sleep waits between status requests.
	sleep Sleeper
	// maxAttempts is the number of status requests before timing out.
	maxAttempts int
	// baseDelay is the unit of the poll delay.
	baseDelay time.Duration
	// maxMultiplier caps the poll delay multiplier.
	maxMultiplier int

	// state is the current state.
	state deployment.TrackState
	// jobID is the remote job id once submitted.
	jobID string
	// job is the last status seen.
	job *deployment.Job
}

// NewTrack creates a track in the NotSubmitted state.
func NewTrack(
	kind deployment.TrackKind,
	transport Transport,
	apiVersion string,
	options deployment.Options,
	opts ...TrackOption,
) *Track {
	track := &Track{
		kind:          kind,
		transport:     transport,
		apiVersion:    apiVersion,
		options:       options,
		sleep:         sleepContext,
		maxAttempts:   DefaultMaxAttempts,
		baseDelay:     DefaultBaseDelay,
		maxMultiplier: DefaultMaxDelayMultiplier,
		state:         deployment.StateNotSubmitted,
	}

	for _, opt := range opts {
		opt(track)
	}

	return track
}

// State returns the current state.
func (t *Track) State() deployment.TrackState {
	return t.state
}

// Result returns a snapshot of the track outcome.
func (t *Track) Result() *TrackResult {
	return &TrackResult{
		Kind:  t.kind,
		JobID: t.jobID,
		State: t.state,
		Job:   t.job,
	}
}

// Run submits the archive and polls the job until it is done.
func (t *Track) Run(ctx context.Context, archivePath string) (*TrackResult, error) {
	jobID, err := t.Submit(ctx, archivePath)
	if err != nil {
		return t.Result(), err
	}

	return t.Follow(ctx, jobID)
}

// Follow polls an already submitted job until it is done.
func (t *Track) Follow(ctx context.Context, jobID string) (*TrackResult, error) {
	if _, err := t.Poll(ctx, jobID); err != nil {
		return t.Result(), err
	}

	return t.Result(), nil
}

// Submit sends the archive and returns the job id. It is never retried.
func (t *Track) Submit(ctx context.Context, archivePath string) (string, error) {
	if t.state != deployment.StateNotSubmitted {
		return "", fmt.Errorf("%s track: %w", t.kind, errAlreadySubmitted)
	}

	archive, err := os.ReadFile(filepath.Clean(archivePath))
	if err != nil {
		t.state = deployment.StateSubmissionError

		return "", &deployment.SubmissionError{Err: fmt.Errorf("read archive: %w", err)}
	}

	envelope, err := BuildEnvelope(t.transport.AccessToken(), archive, t.options)
	if err != nil {
		t.state = deployment.StateSubmissionError

		return "", &deployment.SubmissionError{Err: err}
	}

	logger.InfoKV(ctx, "Submitting deployment",
		"track", t.kind,
		"archive", archivePath,
		"size", len(archive),
		"check_only", t.options.CheckOnly,
		"test_level", t.options.TestLevel,
	)

	response, err := t.transport.PostSOAP(ctx, soapPath(t.apiVersion), soapActionDeploy, envelope)
	if err != nil {
		t.state = deployment.StateSubmissionError

		return "", &deployment.SubmissionError{Err: err}
	}

	if !response.IsSuccess() {
		t.state = deployment.StateSubmissionError

		return "", &deployment.SubmissionError{
			StatusCode: response.StatusCode,
			Fault:      ExtractFault(response.Body),
		}
	}

	jobID, err := ExtractJobID(response.Body)
	if err != nil {
		t.state = deployment.StateSubmissionError

		return "", &deployment.SubmissionError{
			StatusCode: response.StatusCode,
			Fault:      ExtractFault(response.Body),
			Err:        err,
		}
	}

	t.jobID = jobID
	t.state = deployment.StateSubmitted

	logger.InfoKV(ctx, "Deployment submitted", "track", t.kind, "job_id", jobID)

	return jobID, nil
}

// Poll requests the job status until the job is done or the attempts run out.
// Every not-done response is followed by a wait; a done response returns at once.
// A failed status request leaves the track polling since the remote job may still run.
func (t *Track) Poll(ctx context.Context, jobID string) (*deployment.Job, error) {
	t.jobID = jobID
	t.state = deployment.StatePolling

	for attempt := range t.maxAttempts {
		job, err := t.status(ctx, jobID)
		if err != nil {
			return nil, err
		}

		t.job = job

		logger.InfoKV(ctx, "Deployment status",
			"track", t.kind,
			"job_id", jobID,
			"attempt", attempt+1,
			"status", job.Status,
			"components", fmt.Sprintf("%d/%d", job.Counts.ComponentsDeployed, job.Counts.ComponentsTotal),
			"tests", fmt.Sprintf("%d/%d", job.Counts.TestsCompleted, job.Counts.TestsTotal),
		)

		if job.Done {
			t.state = deployment.StateForStatus(job.Status)

			return job, nil
		}

		if err = t.sleep(ctx, t.delay(attempt)); err != nil {
			return nil, fmt.Errorf("wait for job %s: %w", jobID, err)
		}
	}

	t.state = deployment.StateTimedOut

	return t.job, fmt.Errorf("job %s after %d attempts: %w", jobID, t.maxAttempts, deployment.ErrTimedOut)
}

// delay returns the wait after the zero-based attempt.
func (t *Track) delay(attempt int) time.Duration {
	return t.baseDelay * time.Duration(min(attempt+1, t.maxMultiplier))
}

func (t *Track) status(ctx context.Context, jobID string) (*deployment.Job, error) {
	response, err := t.transport.GetJSON(ctx, statusPath(t.apiVersion, jobID))
	if err != nil {
		return nil, fmt.Errorf("get status of job %s: %w", jobID, err)
	}

	if !response.IsSuccess() {
		return nil, fmt.Errorf("%w: job %s: status %d: %s",
			errStatusRequest, jobID, response.StatusCode, parseAPIError(response))
	}

	job, err := parseJob(response)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}

	if job.ID == "" {
		job.ID = jobID
	}

	return job, nil
}

// sleepContext waits for d unless ctx is done first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
