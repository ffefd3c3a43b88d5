package packager

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/metadeploy/internal/config"
	"github.com/oshokin/metadeploy/internal/domain/deployment"
	"github.com/oshokin/metadeploy/internal/domain/metadata"
	"github.com/oshokin/metadeploy/internal/repository/state"
	"github.com/oshokin/metadeploy/internal/service/auth"
	"github.com/oshokin/metadeploy/internal/service/changes"
	"github.com/oshokin/metadeploy/internal/service/deploy"
)

// newWorkspace creates a repository with one regular class and one test class.
func newWorkspace(t *testing.T) string {
	t.Helper()

	workDir := t.TempDir()
	source := filepath.Join(workDir, filepath.FromSlash(config.DefaultSourceRoot))

	writeFile(t, source, "classes/A.cls", "public class A {}")
	writeFile(t, source, "classes/A.cls-meta.xml", "<ApexClass/>")
	writeFile(t, source, "classes/ATest.cls", "@IsTest private class ATest {}")

	return workDir
}

// newOptions returns options deploying the provided change set to org.
func newOptions(workDir string, org *fakeOrg, set *metadata.ChangeSet, out *bytes.Buffer) *Options {
	opts := &Options{
		WorkDir:      workDir,
		Config:       &config.Config{APIVersion: testAPIVersion},
		Changes:      changes.StaticSource{Set: set},
		TrackOptions: []deploy.TrackOption{noWait()},
		Output:       out,
	}

	if org != nil {
		opts.Authenticator = auth.Static{AccessToken: "session-token", InstanceURL: org.server.URL}
	}

	return opts
}

// TestRun_PackageOnly writes the archives without contacting the org.
func TestRun_PackageOnly(t *testing.T) {
	t.Parallel()

	workDir := newWorkspace(t)

	var out bytes.Buffer

	opts := newOptions(workDir, nil, metadata.NewChangeSet([]string{"classes/A.cls"}, nil), &out)
	opts.PackageOnly = true

	require.NoError(t, Run(context.Background(), opts))

	outputDir := filepath.Join(workDir, config.DefaultOutputDir)
	require.FileExists(t, filepath.Join(outputDir, PrimaryArchiveFilename))
	require.NoFileExists(t, filepath.Join(outputDir, DestructiveArchiveFilename))
	require.NoFileExists(t, outputDir+markerSuffix)
	require.NoFileExists(t, filepath.Join(workDir, config.DefaultStateFilename))
	require.Contains(t, out.String(), "ApexClass: A")
}

// TestRun_NothingToDeploy succeeds without any remote call.
func TestRun_NothingToDeploy(t *testing.T) {
	t.Parallel()

	org := newFakeOrg(t)

	var out bytes.Buffer

	opts := newOptions(newWorkspace(t), org, metadata.NewChangeSet([]string{"docs/readme.md"}, nil), &out)

	require.NoError(t, Run(context.Background(), opts))
	require.Empty(t, org.Envelopes())
	require.Contains(t, out.String(), "No deployable changes found")
	require.Contains(t, out.String(), "docs/readme.md")
}

// TestRun_DeploysBothTracks submits the primary then the destructive archive and records both jobs.
func TestRun_DeploysBothTracks(t *testing.T) {
	t.Parallel()

	workDir := newWorkspace(t)
	org := newFakeOrg(t)

	var out bytes.Buffer

	opts := newOptions(workDir, org, metadata.NewChangeSet([]string{"classes/A.cls"}, []string{"classes/Old.cls"}), &out)

	require.NoError(t, Run(context.Background(), opts))

	envelopes := org.Envelopes()
	require.Len(t, envelopes, 2)
	require.Contains(t, envelopes[0], "<met:sessionId>session-token</met:sessionId>")
	require.Contains(t, envelopes[0], "<met:checkOnly>false</met:checkOnly>")
	require.Contains(t, out.String(), "Deployment succeeded.")

	record, err := state.NewFileRepository(filepath.Join(workDir, config.DefaultStateFilename)).Load(context.Background())
	require.NoError(t, err)
	require.False(t, record.CheckOnly)
	require.Equal(t, []deployment.JobSummary{
		{Track: deployment.TrackPrimary, JobID: jobID(1), State: deployment.StateSucceeded, Status: deployment.StatusSucceeded},
		{Track: deployment.TrackDestructive, JobID: jobID(2), State: deployment.StateSucceeded, Status: deployment.StatusSucceeded},
	}, record.Jobs)
}

// TestRun_FailedPrimary returns ErrDeploymentFailed after the destructive track still ran.
func TestRun_FailedPrimary(t *testing.T) {
	t.Parallel()

	workDir := newWorkspace(t)
	org := newFakeOrg(t)
	org.statusOf = func(id string) string {
		if id == jobID(1) {
			return string(deployment.StatusFailed)
		}

		return string(deployment.StatusSucceeded)
	}

	var out bytes.Buffer

	opts := newOptions(workDir, org, metadata.NewChangeSet([]string{"classes/A.cls"}, []string{"classes/Old.cls"}), &out)

	err := Run(context.Background(), opts)
	require.ErrorIs(t, err, deployment.ErrDeploymentFailed)
	require.Len(t, org.Envelopes(), 2)
	require.Contains(t, out.String(), "Deployment failed.")

	record, err := state.NewFileRepository(filepath.Join(workDir, config.DefaultStateFilename)).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, record.Jobs, 2)
	require.Equal(t, deployment.StateFailed, record.Jobs[0].State)
	require.Equal(t, deployment.StateSucceeded, record.Jobs[1].State)
}

// TestQuickDeploy_DeletionOnlyValidation commits the destructive job of a validation without additions.
func TestQuickDeploy_DeletionOnlyValidation(t *testing.T) {
	t.Parallel()

	workDir := newWorkspace(t)
	org := newFakeOrg(t)

	var out bytes.Buffer

	opts := newOptions(workDir, org, metadata.NewChangeSet(nil, []string{"classes/Old.cls"}), &out)
	opts.CheckOnly = true

	require.NoError(t, Run(context.Background(), opts))
	require.NoError(t, QuickDeploy(context.Background(), newOptions(workDir, org, nil, &out), ""))
	require.Equal(t, []string{jobID(1)}, org.QuickDeploys())
}

// TestRun_FailedDestructiveIsReported keeps the run successful when only the destructive track fails.
func TestRun_FailedDestructiveIsReported(t *testing.T) {
	t.Parallel()

	org := newFakeOrg(t)
	org.statusOf = func(id string) string {
		if id == jobID(2) {
			return string(deployment.StatusFailed)
		}

		return string(deployment.StatusSucceeded)
	}

	var out bytes.Buffer

	opts := newOptions(newWorkspace(t), org, metadata.NewChangeSet([]string{"classes/A.cls"}, []string{"classes/Old.cls"}), &out)

	require.NoError(t, Run(context.Background(), opts))
	require.Len(t, org.Envelopes(), 2)
	require.Contains(t, out.String(), "Destructive track: destructive track ended in state Failed")
	require.Contains(t, out.String(), "Deployment succeeded.")
}

// TestRun_RunSpecifiedTestsUsesChangedTestClasses sends the detected test classes.
func TestRun_RunSpecifiedTestsUsesChangedTestClasses(t *testing.T) {
	t.Parallel()

	org := newFakeOrg(t)

	var out bytes.Buffer

	opts := newOptions(newWorkspace(t), org,
		metadata.NewChangeSet([]string{"classes/A.cls", "classes/ATest.cls"}, nil), &out)
	opts.TestLevel = string(deployment.RunSpecifiedTests)

	require.NoError(t, Run(context.Background(), opts))

	envelopes := org.Envelopes()
	require.Len(t, envelopes, 1)
	require.Contains(t, envelopes[0], "<met:testLevel>RunSpecifiedTests</met:testLevel>")
	require.Contains(t, envelopes[0], "<met:runTests>ATest</met:runTests>")
}

// TestQuickDeploy_UsesRecordedValidation commits the job validated by the previous run.
func TestQuickDeploy_UsesRecordedValidation(t *testing.T) {
	t.Parallel()

	workDir := newWorkspace(t)
	org := newFakeOrg(t)

	var out bytes.Buffer

	opts := newOptions(workDir, org, metadata.NewChangeSet([]string{"classes/A.cls"}, nil), &out)
	opts.CheckOnly = true

	require.NoError(t, Run(context.Background(), opts))
	require.Contains(t, org.Envelopes()[0], "<met:checkOnly>true</met:checkOnly>")

	require.NoError(t, QuickDeploy(context.Background(), newOptions(workDir, org, nil, &out), ""))
	require.Equal(t, []string{jobID(1)}, org.QuickDeploys())

	record, err := state.NewFileRepository(filepath.Join(workDir, config.DefaultStateFilename)).Load(context.Background())
	require.NoError(t, err)
	require.False(t, record.CheckOnly)
	require.Len(t, record.Jobs, 1)
	require.Equal(t, quickDeployedID, record.Jobs[0].JobID)
}

// TestQuickDeploy_ExplicitJobID ignores the record.
func TestQuickDeploy_ExplicitJobID(t *testing.T) {
	t.Parallel()

	org := newFakeOrg(t)

	var out bytes.Buffer

	require.NoError(t, QuickDeploy(context.Background(), newOptions(newWorkspace(t), org, nil, &out), "0AfGIVEN"))
	require.Equal(t, []string{"0AfGIVEN"}, org.QuickDeploys())
}

// TestQuickDeploy_WithoutValidation fails when nothing was validated.
func TestQuickDeploy_WithoutValidation(t *testing.T) {
	t.Parallel()

	org := newFakeOrg(t)

	var out bytes.Buffer

	err := QuickDeploy(context.Background(), newOptions(newWorkspace(t), org, nil, &out), "")
	require.ErrorIs(t, err, errNoValidatedJob)
	require.Empty(t, org.QuickDeploys())
}

// TestRun_RefusesOutputDirHoldingWorkDir never wipes the repository it runs in.
func TestRun_RefusesOutputDirHoldingWorkDir(t *testing.T) {
	t.Parallel()

	workDir := newWorkspace(t)

	var out bytes.Buffer

	opts := newOptions(workDir, nil, metadata.NewChangeSet([]string{"classes/A.cls"}, nil), &out)
	opts.PackageOnly = true
	opts.Config.OutputDir = filepath.Dir(workDir)

	require.Error(t, Run(context.Background(), opts))
	require.FileExists(t, filepath.Join(workDir, config.DefaultSourceRoot, "classes", "A.cls"))
}

// TestRun_RequiresOptions rejects nil options.
func TestRun_RequiresOptions(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Run(context.Background(), nil), errOptionsRequired)
}
