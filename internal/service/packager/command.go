package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/metadeploy/internal/config"
	"github.com/oshokin/metadeploy/internal/domain/deployment"
	"github.com/oshokin/metadeploy/internal/domain/metadata"
	"github.com/oshokin/metadeploy/internal/logger"
	"github.com/oshokin/metadeploy/internal/repository/state"
	"github.com/oshokin/metadeploy/internal/service/auth"
	"github.com/oshokin/metadeploy/internal/service/changes"
	"github.com/oshokin/metadeploy/internal/service/common"
	"github.com/oshokin/metadeploy/internal/service/deploy"
)

// Options contains inputs for the packager entry points.
type Options struct {
	// ConfigPath is an optional path to the settings file (defaults to metadeploy.yaml).
	ConfigPath string
	// DotenvPath is an optional path to the credentials file (defaults to .env).
	DotenvPath string
	// WorkDir is the repository directory; empty means the current directory.
	WorkDir string
	// PackageOnly stops after the archives are written.
	PackageOnly bool
	// CheckOnly forces a validation run when set.
	CheckOnly bool
	// TestLevel overrides the configured test level when not empty.
	TestLevel string
	// Tests override the configured test classes when not empty.
	Tests []string
	// BaseRevision overrides the configured base revision when not empty.
	BaseRevision string
	// HeadRevision overrides the configured head revision when not empty.
	HeadRevision string

	// Config replaces loading the settings file when set.
	Config *config.Config
	// Changes replaces the git change source when set.
	Changes changes.Source
	// Authenticator replaces the configured authentication when set.
	Authenticator auth.Authenticator
	// HTTPClient replaces the default HTTP client when set.
	HTTPClient *http.Client
	// TrackOptions configure every deployment track.
	TrackOptions []deploy.TrackOption
	// Output receives the summary; nil means stdout.
	Output io.Writer
	// LookupEnv reads environment variables; nil means os.LookupEnv.
	LookupEnv config.LookupFunc
}

// packager deploys the changes of one run.
// Callers use Run or QuickDeploy.
type packager struct {
	// cfg holds the resolved settings.
	cfg *config.Config
	// opts are the caller inputs.
	opts *Options
	// runID identifies the run in logs and in the record.
	runID string
	// records persists the last run.
	records state.Repository
	// out receives the summary.
	out io.Writer
}

var (
	// errNoValidatedJob is returned when quick deploy has no job id to work with.
	errNoValidatedJob = errors.New("no validated job id given and none recorded by the last run")
	// errOptionsRequired is returned when Run is called without options.
	errOptionsRequired = errors.New("options must be provided")
)

// Run executes the packaging and deployment workflow.
func Run(ctx context.Context, opts *Options) error {
	pkg, err := newPackager(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialize packager: %w", err)
	}

	ctx = pkg.withRunContext(ctx)

	lock, err := acquireMarker(ctx, resolvePath(opts.WorkDir, pkg.cfg.OutputDir))
	if err != nil {
		return err
	}

	defer lock.release(ctx)

	return pkg.Run(ctx)
}

// QuickDeploy commits a validated job. An empty jobID falls back to the
// validated job recorded by the last run.
func QuickDeploy(ctx context.Context, opts *Options, jobID string) error {
	pkg, err := newPackager(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialize packager: %w", err)
	}

	ctx = pkg.withRunContext(ctx)

	if jobID == "" {
		record, loadErr := pkg.records.Load(ctx)
		if loadErr != nil && !errors.Is(loadErr, state.ErrNotFound) {
			return fmt.Errorf("load last run: %w", loadErr)
		}

		var ok bool
		if jobID, ok = record.ValidatedJobID(); !ok {
			return errNoValidatedJob
		}

		logger.InfoKV(ctx, "Using the validated job of the last run", "job_id", jobID)
	}

	coordinator, err := pkg.coordinator(ctx, deployment.NewOptions())
	if err != nil {
		return err
	}

	result, err := coordinator.QuickDeploy(ctx, jobID)
	outcome := &deploy.Result{Primary: result}

	pkg.saveRecord(ctx, false, outcome)
	pkg.printDeployment(outcome)

	if err != nil {
		return fmt.Errorf("quick deploy: %w", err)
	}

	return checkOutcome(outcome)
}

// newPackager resolves settings and creates the packager.
func newPackager(ctx context.Context, opts *Options) (*packager, error) {
	if opts == nil {
		return nil, errOptionsRequired
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	if err = config.CheckOutputDir(opts.WorkDir, cfg.OutputDir, cfg.SourceRoot); err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	pkg := &packager{
		cfg:     cfg,
		opts:    opts,
		runID:   uuid.NewString(),
		records: state.NewFileRepository(resolvePath(opts.WorkDir, cfg.StateFile)),
		out:     out,
	}

	logger.DebugKV(ctx, "Settings resolved",
		"source_root", cfg.SourceRoot,
		"output_dir", cfg.OutputDir,
		"api_version", cfg.APIVersion,
		"environment", cfg.Environment,
	)

	return pkg, nil
}

// Run builds the plan and deploys it unless only packaging was requested.
func (p *packager) Run(ctx context.Context) error {
	source := p.opts.Changes
	if source == nil {
		source = &changes.GitSource{
			Dir:        p.opts.WorkDir,
			Base:       p.cfg.BaseRevision,
			Head:       p.cfg.HeadRevision,
			SourceRoot: filepath.ToSlash(p.cfg.SourceRoot),
		}
	}

	set, err := source.Changes(ctx)
	if err != nil {
		return fmt.Errorf("list changes: %w", err)
	}

	logger.InfoKV(ctx, "Changes listed",
		"added_or_modified", len(set.AddedOrModified()),
		"deleted", len(set.Deleted()),
	)

	plan, err := p.buildPlan(ctx, set)
	if err != nil {
		return err
	}

	p.printPlan(plan)

	if plan.IsEmpty() {
		logger.Info(ctx, "No deployable changes found, nothing to do")

		return nil
	}

	if p.opts.PackageOnly {
		logger.InfoKV(ctx, "Package written", "output_dir", p.cfg.OutputDir)

		return nil
	}

	options, err := p.deployOptions(ctx, plan)
	if err != nil {
		return err
	}

	coordinator, err := p.coordinator(ctx, options)
	if err != nil {
		return err
	}

	result, err := coordinator.Run(ctx, deploy.Plan{
		PrimaryArchive:     plan.PrimaryArchive,
		DestructiveArchive: plan.DestructiveArchive,
	})

	p.saveRecord(ctx, options.CheckOnly, result)
	p.printDeployment(result)

	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}

	return checkOutcome(result)
}

// buildPlan stages the change set into the output directory.
func (p *packager) buildPlan(ctx context.Context, set *metadata.ChangeSet) (*Plan, error) {
	cfg := *p.cfg
	cfg.OutputDir = resolvePath(p.opts.WorkDir, p.cfg.OutputDir)

	plan, err := newBuilder(&cfg, resolvePath(p.opts.WorkDir, p.cfg.SourceRoot), metadata.DefaultRules()).build(ctx, set)
	if err != nil {
		return nil, fmt.Errorf("build package: %w", err)
	}

	return plan, nil
}

// deployOptions resolves the configured options and fills detected test classes.
func (p *packager) deployOptions(ctx context.Context, plan *Plan) (deployment.Options, error) {
	options, err := p.cfg.DeployOptions()
	if err != nil {
		return deployment.Options{}, err
	}

	if options.TestLevel != deployment.RunSpecifiedTests || len(options.SpecifiedTests) > 0 {
		return options, nil
	}

	options.SpecifiedTests = plan.TestClasses

	if len(options.SpecifiedTests) == 0 {
		logger.Warn(ctx, "RunSpecifiedTests requested but no test classes were given or changed")
	} else {
		logger.InfoKV(ctx, "Running detected test classes", "tests", options.SpecifiedTests)
	}

	return options, nil
}

// coordinator authenticates and creates a coordinator bound to the session.
func (p *packager) coordinator(ctx context.Context, options deployment.Options) (*deploy.Coordinator, error) {
	session, err := p.authenticator().Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	client, err := common.NewClient(session.InstanceURL,
		common.WithAccessToken(session.AccessToken),
		common.WithCallTimeout(p.cfg.Timeout),
		common.WithHTTPClient(p.opts.HTTPClient),
	)
	if err != nil {
		return nil, err
	}

	return deploy.NewCoordinator(client, p.cfg.APIVersion, options, p.opts.TrackOptions...), nil
}

// authenticator returns the injected authenticator or the configured one.
func (p *packager) authenticator() auth.Authenticator {
	if p.opts.Authenticator != nil {
		return p.opts.Authenticator
	}

	if p.cfg.HasStaticSession() {
		return auth.Static{AccessToken: p.cfg.AccessToken, InstanceURL: p.cfg.InstanceURL}
	}

	return &auth.JWTBearer{
		LoginURL:   p.cfg.ResolvedLoginURL(),
		ClientID:   p.cfg.ClientID,
		Username:   p.cfg.Username,
		PrivateKey: p.privateKey(),
		HTTPClient: p.opts.HTTPClient,
		Timeout:    p.cfg.Timeout,
	}
}

// privateKey resolves a relative key path against the working directory.
// Inline PEM material is returned untouched.
func (p *packager) privateKey() string {
	key := p.cfg.PrivateKey
	if key == "" || filepath.IsAbs(key) || strings.HasPrefix(strings.TrimSpace(key), "-----BEGIN") {
		return key
	}

	return resolvePath(p.opts.WorkDir, key)
}

// saveRecord persists the run outcome; failures are only logged.
func (p *packager) saveRecord(ctx context.Context, checkOnly bool, result *deploy.Result) {
	if result == nil {
		return
	}

	record := &deployment.Record{
		RunID:     p.runID,
		Timestamp: time.Now().UTC(),
		CheckOnly: checkOnly,
	}

	for _, track := range result.Tracks() {
		record.Jobs = append(record.Jobs, track.Summary())
	}

	actor, err := common.DetectActor()
	if err != nil {
		logger.WarnKV(ctx, "Unable to detect the current actor", "error", err)
	} else {
		record.Actor = actor
	}

	if err = p.records.Save(ctx, record); err != nil {
		logger.WarnKV(ctx, "Unable to save the run record", "error", err)
	}
}

// withRunContext returns ctx with the packager logger name and run id attached.
func (p *packager) withRunContext(ctx context.Context) context.Context {
	ctx = logger.WithName(ctx, "metadeploy")

	return logger.WithKV(ctx, "run_id", p.runID)
}

// checkOutcome maps an unsuccessful decisive track to ErrDeploymentFailed.
func checkOutcome(result *deploy.Result) error {
	decisive := result.Decisive()
	if decisive == nil || decisive.Succeeded() {
		return nil
	}

	return fmt.Errorf("%w: %s job %s ended in state %s",
		deployment.ErrDeploymentFailed, decisive.Kind, decisive.JobID, decisive.State)
}

// loadConfig returns the injected settings or loads them and overlays the environment.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error

		cfg, err = config.Load(defaultInWorkDir(opts.WorkDir, opts.ConfigPath, config.DefaultConfigFilename))
		if err != nil {
			return nil, err
		}

		dotenvPath := defaultInWorkDir(opts.WorkDir, opts.DotenvPath, config.DefaultDotenvFilename)
		if err = config.ApplyEnvironment(cfg, dotenvPath, opts.LookupEnv); err != nil {
			return nil, err
		}
	} else {
		cloned := *cfg
		cfg = &cloned
	}

	if opts.CheckOnly {
		cfg.Deploy.CheckOnly = true
	}

	if opts.TestLevel != "" {
		cfg.Deploy.TestLevel = opts.TestLevel
	}

	if len(opts.Tests) > 0 {
		cfg.Deploy.Tests = opts.Tests
	}

	if opts.BaseRevision != "" {
		cfg.BaseRevision = opts.BaseRevision
	}

	if opts.HeadRevision != "" {
		cfg.HeadRevision = opts.HeadRevision
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultInWorkDir returns path when given, otherwise the default file of the
// working directory when it exists there. An empty result selects the default lookup.
func defaultInWorkDir(workDir, path, defaultName string) string {
	if path != "" || workDir == "" {
		return path
	}

	candidate := filepath.Join(workDir, defaultName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}

	return ""
}

// resolvePath joins relative paths to the working directory.
func resolvePath(workDir, path string) string {
	if workDir == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}
