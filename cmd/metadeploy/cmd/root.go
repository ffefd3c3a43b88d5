package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/metadeploy/internal/config"
	"github.com/oshokin/metadeploy/internal/logger"
	"github.com/oshokin/metadeploy/internal/service/packager"
	"github.com/oshokin/metadeploy/internal/version"
)

// errUnknownLogLevel is returned for log levels ParseLogLevel does not know.
var errUnknownLogLevel = errors.New("unknown log level")

var (
	// configPath to the configuration YAML file.
	configPath string
	// dotenvPath to the file holding credentials.
	dotenvPath string
	// logLevel is the minimum level of log messages written to stderr.
	logLevel string
	// workDir is the repository directory.
	workDir string
	// packageOnly stops after the archives are written.
	packageOnly bool
	// checkOnly validates without committing.
	checkOnly bool
	// testLevel overrides the configured test level.
	testLevel string
	// tests override the configured test classes.
	tests []string
	// baseRevision overrides the configured base revision.
	baseRevision string
	// headRevision overrides the configured head revision.
	headRevision string

	// rootCmd represents the base command packaging and deploying changed metadata.
	rootCmd = &cobra.Command{
		Use:   "metadeploy",
		Short: "Package metadata changed between two revisions and deploy it",
		Long: "Lists the metadata changed between two git revisions, stages it into a primary " +
			"and a destructive package, and deploys both through the metadata API.",
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: applyLogLevel,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := newOptions()
			options.PackageOnly = packageOnly
			options.CheckOnly = checkOnly
			options.TestLevel = testLevel
			options.Tests = tests
			options.BaseRevision = baseRevision
			options.HeadRevision = headRevision

			return packager.Run(ctx, options)
		},
	}

	// quickDeployCmd commits a validated job.
	quickDeployCmd = &cobra.Command{
		Use:   "quick-deploy [job-id]",
		Short: "Commit a validated deployment without running tests again",
		Long: "Commits the given validated job, or the job validated by the last check-only run " +
			"when no id is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var jobID string
			if len(args) > 0 {
				jobID = args[0]
			}

			return packager.QuickDeploy(ctx, newOptions(), jobID)
		},
	}
)

// Execute runs the metadeploy CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+")")
	flags.StringVar(&dotenvPath, "env-file", "", "path to credentials file (default "+config.DefaultDotenvFilename+")")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVarP(&workDir, "work-dir", "C", "", "repository directory (default current directory)")

	rootCmd.Flags().BoolVar(&packageOnly, "package-only", false, "write the archives without deploying them")
	rootCmd.Flags().BoolVar(&checkOnly, "check-only", false, "validate the deployment without committing it")
	rootCmd.Flags().StringVar(&testLevel, "test-level", "",
		"NoTestRun, RunSpecifiedTests, RunLocalTests or RunAllTestsInOrg")
	rootCmd.Flags().StringSliceVar(&tests, "tests", nil, "test classes run with RunSpecifiedTests")
	rootCmd.Flags().StringVar(&baseRevision, "base", "", "older revision of the comparison (default HEAD~1)")
	rootCmd.Flags().StringVar(&headRevision, "head", "", "newer revision of the comparison (default HEAD)")

	rootCmd.AddCommand(quickDeployCmd)
}

// newOptions returns packager options filled from the shared flags.
func newOptions() *packager.Options {
	return &packager.Options{
		ConfigPath: configPath,
		DotenvPath: dotenvPath,
		WorkDir:    workDir,
	}
}

// applyLogLevel sets the global log level from the flag.
func applyLogLevel(_ *cobra.Command, _ []string) error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, logLevel)
	}

	logger.SetLevel(level)

	return nil
}
