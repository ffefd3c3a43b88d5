package packager

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/oshokin/metadeploy/internal/domain/deployment"
	"github.com/oshokin/metadeploy/internal/domain/metadata"
	"github.com/oshokin/metadeploy/internal/service/deploy"
)

// printPlan writes the content of the produced packages.
func (p *packager) printPlan(plan *Plan) {
	var builder strings.Builder

	if plan.IsEmpty() {
		builder.WriteString(color.YellowString("No deployable changes found.") + "\n")
	}

	writeTypes(&builder, "Primary package", plan.PrimaryArchive, plan.Primary)
	writeTypes(&builder, "Destructive package", plan.DestructiveArchive, plan.Destructive)

	if len(plan.TestClasses) > 0 {
		builder.WriteString("Changed test classes: " + strings.Join(plan.TestClasses, ", ") + "\n")
	}

	if len(plan.Excluded) > 0 {
		builder.WriteString(color.YellowString("Excluded types: %s", strings.Join(plan.Excluded, ", ")) + "\n")
	}

	if len(plan.Unrecognized) > 0 {
		builder.WriteString(color.YellowString("Unrecognized paths:") + "\n")

		for _, path := range plan.Unrecognized {
			builder.WriteString("  " + path + "\n")
		}
	}

	_, _ = fmt.Fprint(p.out, builder.String())
}

// printDeployment writes the outcome of every track and the overall verdict.
func (p *packager) printDeployment(result *deploy.Result) {
	if result == nil {
		return
	}

	var builder strings.Builder

	for _, track := range result.Tracks() {
		writeTrackResult(&builder, track)
	}

	if result.SecondaryErr != nil {
		builder.WriteString(color.RedString("Destructive track: %v", result.SecondaryErr) + "\n")
	}

	decisive := result.Decisive()

	switch {
	case decisive == nil:
	case decisive.Succeeded():
		builder.WriteString(color.GreenString("Deployment succeeded.") + "\n")
	default:
		builder.WriteString(color.RedString("Deployment failed.") + "\n")
	}

	_, _ = fmt.Fprint(p.out, builder.String())
}

func writeTypes(builder *strings.Builder, title, archivePath string, types []metadata.MetadataType) {
	if archivePath == "" {
		return
	}

	builder.WriteString(color.CyanString("%s (%s):", title, filepath.Base(archivePath)) + "\n")

	for _, metadataType := range types {
		builder.WriteString("  " + metadataType.Name + ": " + strings.Join(metadataType.Members, ", ") + "\n")
	}
}

func writeTrackResult(builder *strings.Builder, track *deploy.TrackResult) {
	jobID := track.JobID
	if jobID == "" {
		jobID = "-"
	}

	fmt.Fprintf(builder, "%-11s job %s: %s", track.Kind, jobID, stateLabel(track.State))

	job := track.Job
	if job == nil {
		builder.WriteString("\n")

		return
	}

	fmt.Fprintf(builder, " (components %d/%d, errors %d; tests %d/%d, errors %d)\n",
		job.Counts.ComponentsDeployed, job.Counts.ComponentsTotal, job.Counts.ComponentErrors,
		job.Counts.TestsCompleted, job.Counts.TestsTotal, job.Counts.TestErrors)

	for _, failure := range job.Failures.Components {
		builder.WriteString(color.RedString("  %s %s (%s): %s", failure.Type, failure.Name, failure.File, failure.Problem) + "\n")
	}

	for _, failure := range job.Failures.Tests {
		builder.WriteString(color.RedString("  %s.%s: %s", failure.Name, failure.Method, failure.Message) + "\n")
	}
}

func stateLabel(state deployment.TrackState) string {
	switch state {
	case deployment.StateSucceeded:
		return color.GreenString(string(state))
	case deployment.StateSucceededPartial, deployment.StateTimedOut, deployment.StateCanceled:
		return color.YellowString(string(state))
	case deployment.StateNotSubmitted, deployment.StateSubmitted, deployment.StatePolling:
		return string(state)
	default:
		return color.RedString(string(state))
	}
}
