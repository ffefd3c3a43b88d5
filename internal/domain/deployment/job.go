package deployment

// Status is the remote status of a deployment job.
type Status string

const (
	// StatusPending means the job is queued.
	StatusPending Status = "Pending"
	// StatusInProgress means the job is running.
	StatusInProgress Status = "InProgress"
	// StatusCanceling means a cancel was requested and is being processed.
	StatusCanceling Status = "Canceling"
	// StatusSucceeded means every component was deployed.
	StatusSucceeded Status = "Succeeded"
	// StatusSucceededPartial means some components failed but the rest were committed.
	StatusSucceededPartial Status = "SucceededPartial"
	// StatusFailed means the deployment was rolled back.
	StatusFailed Status = "Failed"
	// StatusCanceled means the deployment was canceled.
	StatusCanceled Status = "Canceled"
)

// IsTerminal reports whether the status belongs to the fixed terminal set.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusSucceededPartial, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether the status counts as a successful deployment.
func (s Status) IsSuccess() bool {
	return s == StatusSucceeded || s == StatusSucceededPartial
}

// Counts are the progress counters of a job.
type Counts struct {
	ComponentsDeployed int
	ComponentsTotal    int
	ComponentErrors    int
	TestsCompleted     int
	TestsTotal         int
	TestErrors         int
}

// ComponentFailure describes a component the platform refused.
type ComponentFailure struct {
	// Type is the metadata type of the component.
	Type string
	// File is the archive path of the component.
	File string
	// Name is the full member name.
	Name string
	// Problem is the platform message.
	Problem string
	// ProblemType is Error or Warning.
	ProblemType string
}

// TestFailure describes a failed test method.
type TestFailure struct {
	// Name is the test class name.
	Name string
	// Method is the test method name.
	Method string
	// Message is the assertion or exception message.
	Message string
	// StackTrace is the platform stack detail.
	StackTrace string
}

// Failures groups the failure lists of a job.
type Failures struct {
	Components []ComponentFailure
	Tests      []TestFailure
}

// Job is a remote deployment job as seen by the last poll.
type Job struct {
	// ID is the opaque job identifier returned by the submission.
	ID string
	// Status is the remote status.
	Status Status
	// Done is set by the platform once the job stops changing.
	Done bool
	// StateDetail is an optional human-readable progress detail.
	StateDetail string
	// Counts are the progress counters.
	Counts Counts
	// Failures are the component and test failures.
	Failures Failures
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return j != nil && j.Done && j.Status.IsTerminal()
}
