package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/metadeploy/internal/domain/deployment"
	"github.com/oshokin/metadeploy/internal/logger"
)

var errNothingToDeploy = errors.New("no archive to deploy")

// Plan names the archives of a run. An empty path skips its track.
type Plan struct {
	// PrimaryArchive holds additions and modifications with an empty destructive manifest.
	PrimaryArchive string
	// DestructiveArchive holds deletions with an empty primary manifest.
	DestructiveArchive string
}

// Result is the outcome of a coordinated run.
type Result struct {
	// Primary is the primary track outcome, nil when the plan had no primary archive.
	Primary *TrackResult
	// Secondary is the destructive track outcome, nil when it did not run.
	Secondary *TrackResult
	// SecondaryErr records a destructive track failure next to a primary track.
	SecondaryErr error
}

// Decisive returns the track whose state decides the run outcome:
// the primary one, or the destructive one when it ran alone.
func (r *Result) Decisive() *TrackResult {
	if r == nil {
		return nil
	}

	if r.Primary != nil {
		return r.Primary
	}

	return r.Secondary
}

// Tracks returns the track results in execution order.
func (r *Result) Tracks() []*TrackResult {
	tracks := make([]*TrackResult, 0, 2)

	if r.Primary != nil {
		tracks = append(tracks, r.Primary)
	}

	if r.Secondary != nil {
		tracks = append(tracks, r.Secondary)
	}

	return tracks
}

// Coordinator runs the tracks of a deployment one after another.
type Coordinator struct {
	// transport performs the remote calls.
	transport Transport
	// apiVersion selects the remote endpoints.
	apiVersion string
	// options are sent with every submission.
	options deployment.Options
	// trackOptions configure every track.
	trackOptions []TrackOption
}

// NewCoordinator creates a coordinator submitting with the provided options.
func NewCoordinator(
	transport Transport,
	apiVersion string,
	options deployment.Options,
	trackOptions ...TrackOption,
) *Coordinator {
	return &Coordinator{
		transport:    transport,
		apiVersion:   apiVersion,
		options:      options,
		trackOptions: trackOptions,
	}
}

// Run deploys the primary archive and then the destructive one.
// The destructive track always runs after the primary track stops, whatever the
// primary outcome. Its failure is recorded in Result.SecondaryErr and never returned;
// a primary error is returned after the destructive track ran.
func (c *Coordinator) Run(ctx context.Context, plan Plan) (*Result, error) {
	result := new(Result)

	switch {
	case plan.PrimaryArchive == "" && plan.DestructiveArchive == "":
		return result, errNothingToDeploy
	case plan.PrimaryArchive == "":
		// Without a primary track the destructive track decides the run, so its errors are fatal.
		secondary, err := c.newTrack(deployment.TrackDestructive).Run(ctx, plan.DestructiveArchive)
		result.Secondary = secondary

		if err != nil {
			return result, fmt.Errorf("destructive track: %w", err)
		}

		return result, nil
	}

	primary, primaryErr := c.newTrack(deployment.TrackPrimary).Run(ctx, plan.PrimaryArchive)
	result.Primary = primary

	if primaryErr != nil {
		logger.ErrorKV(ctx, "Primary track failed", "job_id", primary.JobID, "state", primary.State, "error", primaryErr)
	}

	if plan.DestructiveArchive != "" {
		c.runSecondary(ctx, plan.DestructiveArchive, result)
	}

	if primaryErr != nil {
		return result, fmt.Errorf("primary track: %w", primaryErr)
	}

	return result, nil
}

// runSecondary runs the destructive track next to a primary one and records its failure.
func (c *Coordinator) runSecondary(ctx context.Context, archivePath string, result *Result) {
	secondary, err := c.newTrack(deployment.TrackDestructive).Run(ctx, archivePath)
	result.Secondary = secondary

	switch {
	case err != nil:
		result.SecondaryErr = &deployment.SecondaryTrackError{JobID: secondary.JobID, State: secondary.State, Err: err}
	case !secondary.Succeeded():
		result.SecondaryErr = &deployment.SecondaryTrackError{JobID: secondary.JobID, State: secondary.State}
	}

	if result.SecondaryErr != nil {
		logger.ErrorKV(ctx, "Destructive track failed", "error", result.SecondaryErr)
	}
}

// quickDeployRequest is the body of a quick deploy call.
type quickDeployRequest struct {
	ValidatedDeployRequestID string `json:"validatedDeployRequestId"`
}

// QuickDeploy commits a previously validated job without re-running tests,
// then follows the new job like a primary track.
func (c *Coordinator) QuickDeploy(ctx context.Context, validatedID string) (*TrackResult, error) {
	track := c.newTrack(deployment.TrackPrimary)

	if validatedID == "" {
		track.state = deployment.StateSubmissionError

		return track.Result(), &deployment.SubmissionError{Err: errJobIDMissing}
	}

	logger.InfoKV(ctx, "Requesting quick deploy", "validated_job_id", validatedID)

	response, err := c.transport.PostJSON(ctx,
		deployRequestPath(c.apiVersion, quickDeployID),
		quickDeployRequest{ValidatedDeployRequestID: validatedID},
	)
	if err != nil {
		track.state = deployment.StateSubmissionError

		return track.Result(), &deployment.SubmissionError{Err: err}
	}

	if !response.IsSuccess() {
		track.state = deployment.StateSubmissionError

		return track.Result(), &deployment.SubmissionError{
			StatusCode: response.StatusCode,
			Fault:      parseAPIError(response),
		}
	}

	jobID, err := parseQuickDeployID(response)
	if err != nil {
		track.state = deployment.StateSubmissionError

		return track.Result(), &deployment.SubmissionError{StatusCode: response.StatusCode, Err: err}
	}

	logger.InfoKV(ctx, "Quick deploy submitted", "validated_job_id", validatedID, "job_id", jobID)

	return track.Follow(ctx, jobID)
}

func (c *Coordinator) newTrack(kind deployment.TrackKind) *Track {
	return NewTrack(kind, c.transport, c.apiVersion, c.options, c.trackOptions...)
}
