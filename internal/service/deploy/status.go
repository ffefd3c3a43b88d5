package deploy

import (
	"errors"

	"github.com/oshokin/metadeploy/internal/domain/deployment"
	"github.com/oshokin/metadeploy/internal/service/common"
)

var errStatusMissing = errors.New("status response carries no deployResult")

type statusResponse struct {
	ID           string        `json:"id"`
	DeployResult *deployResult `json:"deployResult"`
}

type deployResult struct {
	ID                       string         `json:"id"`
	Done                     bool           `json:"done"`
	Status                   string         `json:"status"`
	StateDetail              string         `json:"stateDetail"`
	NumberComponentsDeployed int            `json:"numberComponentsDeployed"`
	NumberComponentsTotal    int            `json:"numberComponentsTotal"`
	NumberComponentErrors    int            `json:"numberComponentErrors"`
	NumberTestsCompleted     int            `json:"numberTestsCompleted"`
	NumberTestsTotal         int            `json:"numberTestsTotal"`
	NumberTestErrors         int            `json:"numberTestErrors"`
	Details                  *resultDetails `json:"details"`
}

type resultDetails struct {
	ComponentFailures []componentFailure `json:"componentFailures"`
	RunTestResult     *runTestResult     `json:"runTestResult"`
}

type componentFailure struct {
	ComponentType string `json:"componentType"`
	FileName      string `json:"fileName"`
	FullName      string `json:"fullName"`
	Problem       string `json:"problem"`
	ProblemType   string `json:"problemType"`
}

type runTestResult struct {
	Failures []testFailure `json:"failures"`
}

type testFailure struct {
	Name       string `json:"name"`
	MethodName string `json:"methodName"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace"`
}

// apiError is one element of the error list returned by REST resources.
type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// parseJob decodes a status or quick deploy response into a job.
func parseJob(response *common.Response) (*deployment.Job, error) {
	var payload statusResponse
	if err := response.DecodeJSON(&payload); err != nil {
		return nil, err
	}

	if payload.DeployResult == nil {
		return nil, errStatusMissing
	}

	job := payload.DeployResult.toJob()
	if job.ID == "" {
		job.ID = payload.ID
	}

	return job, nil
}

// parseQuickDeployID returns the id of the job created by a quick deploy call.
func parseQuickDeployID(response *common.Response) (string, error) {
	var payload statusResponse
	if err := response.DecodeJSON(&payload); err != nil {
		return "", err
	}

	if payload.ID != "" {
		return payload.ID, nil
	}

	if payload.DeployResult != nil && payload.DeployResult.ID != "" {
		return payload.DeployResult.ID, nil
	}

	return "", errJobIDMissing
}

// parseAPIError returns the first REST error message of a response body.
func parseAPIError(response *common.Response) string {
	var errs []apiError
	if err := response.DecodeJSON(&errs); err != nil || len(errs) == 0 {
		return ""
	}

	if errs[0].ErrorCode == "" {
		return errs[0].Message
	}

	return errs[0].ErrorCode + ": " + errs[0].Message
}

func (r *deployResult) toJob() *deployment.Job {
	job := &deployment.Job{
		ID:          r.ID,
		Status:      deployment.Status(r.Status),
		Done:        r.Done,
		StateDetail: r.StateDetail,
		Counts: deployment.Counts{
			ComponentsDeployed: r.NumberComponentsDeployed,
			ComponentsTotal:    r.NumberComponentsTotal,
			ComponentErrors:    r.NumberComponentErrors,
			TestsCompleted:     r.NumberTestsCompleted,
			TestsTotal:         r.NumberTestsTotal,
			TestErrors:         r.NumberTestErrors,
		},
	}

	if r.Details == nil {
		return job
	}

	for _, failure := range r.Details.ComponentFailures {
		job.Failures.Components = append(job.Failures.Components, deployment.ComponentFailure{
			Type:        failure.ComponentType,
			File:        failure.FileName,
			Name:        failure.FullName,
			Problem:     failure.Problem,
			ProblemType: failure.ProblemType,
		})
	}

	if r.Details.RunTestResult == nil {
		return job
	}

	for _, failure := range r.Details.RunTestResult.Failures {
		job.Failures.Tests = append(job.Failures.Tests, deployment.TestFailure{
			Name:       failure.Name,
			Method:     failure.MethodName,
			Message:    failure.Message,
			StackTrace: failure.StackTrace,
		})
	}

	return job
}
