package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/metadeploy/internal/config"
	"github.com/oshokin/metadeploy/internal/service/packager"
)

const sourceRoot = "force-app/main/default"

// TestMetadeploy_ValidateThenQuickDeploy runs the whole workflow against a git repository:
// settings and credentials files, git diff, staging, archives, deployment and the run record.
func TestMetadeploy_ValidateThenQuickDeploy(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not installed")
	}

	o := startOrg(t, "58.0")
	repo := t.TempDir()

	git(t, repo, "init", "--quiet")
	writeSource(t, repo, "classes/A.cls", "public class A {}")
	writeSource(t, repo, "classes/A.cls-meta.xml", "<ApexClass/>")
	writeSource(t, repo, "classes/Old.cls", "public class Old {}")
	writeSource(t, repo, "classes/Old.cls-meta.xml", "<ApexClass/>")
	commit(t, repo, "initial")

	writeSource(t, repo, "classes/A.cls", "public class A { void run() {} }")
	writeSource(t, repo, "objects/Account/fields/Score__c.field-meta.xml",
		"<CustomField><fullName>Score__c</fullName><type>Number</type></CustomField>")
	require.NoError(t, os.Remove(filepath.Join(repo, sourceRoot, "classes", "Old.cls")))
	require.NoError(t, os.Remove(filepath.Join(repo, sourceRoot, "classes", "Old.cls-meta.xml")))
	commit(t, repo, "change")

	writeFile(t, repo, config.DefaultConfigFilename, `source_root: `+sourceRoot+`
api_version: v58.0
deploy:
  check_only: true
  test_level: NoTestRun
`)
	writeFile(t, repo, config.DefaultDotenvFilename,
		"SF_ACCESS_TOKEN=session\nSF_INSTANCE_URL="+o.server.URL+"\n")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer

	options := &packager.Options{
		WorkDir:   repo,
		Output:    &out,
		LookupEnv: func(string) (string, bool) { return "", false },
	}

	require.NoError(t, packager.Run(ctx, options))

	submissions := o.Submissions()
	require.Len(t, submissions, 2)
	require.Contains(t, submissions[0], "<met:checkOnly>true</met:checkOnly>")
	require.Contains(t, submissions[0], "<met:sessionId>session</met:sessionId>")

	outputDir := filepath.Join(repo, config.DefaultOutputDir)
	require.Equal(t, []string{
		"classes/A.cls",
		"classes/A.cls-meta.xml",
		"destructiveChanges.xml",
		"objects/Account.object",
		"package.xml",
	}, zipEntries(t, filepath.Join(outputDir, packager.PrimaryArchiveFilename)))
	require.Equal(t, []string{
		"destructiveChanges.xml",
		"package.xml",
	}, zipEntries(t, filepath.Join(outputDir, packager.DestructiveArchiveFilename)))
	require.FileExists(t, filepath.Join(repo, config.DefaultStateFilename))
	require.Contains(t, out.String(), "CustomField: Account.Score__c")
	require.Contains(t, out.String(), "ApexClass: Old")

	quickOptions := &packager.Options{
		WorkDir:   repo,
		Output:    &out,
		LookupEnv: options.LookupEnv,
	}

	require.NoError(t, packager.QuickDeploy(ctx, quickOptions, ""))
	require.Equal(t, []string{"0Af1"}, o.Validated())
}

func git(t *testing.T, dir string, args ...string) {
	t.Helper()

	args = append([]string{"-c", "user.name=metadeploy", "-c", "user.email=metadeploy@example.com"}, args...)

	//nolint:gosec // Test arguments are fixed.
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, string(output))
}

func commit(t *testing.T, dir, message string) {
	t.Helper()

	git(t, dir, "add", "--all")
	git(t, dir, "commit", "--quiet", "--no-gpg-sign", "-m", message)
}

func writeSource(t *testing.T, repo, relPath, contents string) {
	t.Helper()

	writeFile(t, repo, filepath.Join(sourceRoot, relPath), contents)
}

func writeFile(t *testing.T, root, relPath, contents string) {
	t.Helper()

	target := filepath.Join(root, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte(contents), 0o644))
}

func zipEntries(t *testing.T, path string) []string {
	t.Helper()

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer func() {
		_ = reader.Close()
	}()

	names := make([]string, 0, len(reader.File))
	for _, file := range reader.File {
		names = append(names, file.Name)
	}

	slices.Sort(names)

	return names
}
