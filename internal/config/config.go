package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/metadeploy/internal/domain/deployment"
)

// Config holds the settings of a deployment run.
type Config struct {
	// SourceRoot is the source directory, relative to the repository root.
	SourceRoot string `yaml:"source_root"`
	// OutputDir receives staging trees, manifests and archives. It is wiped on every run.
	OutputDir string `yaml:"output_dir"`
	// APIVersion is the remote API version, e.g. 58.0.
	APIVersion string `yaml:"api_version"`
	// Environment is sandbox or production and selects the default login URL.
	Environment string `yaml:"environment"`
	// LoginURL overrides the login URL derived from Environment.
	LoginURL string `yaml:"login_url,omitempty"`
	// ClientID is the consumer key of the connected application.
	ClientID string `yaml:"client_id,omitempty"`
	// Username is the user the deployment runs as.
	Username string `yaml:"username,omitempty"`
	// PrivateKey is the path to the PEM key signing JWT assertions, or the key itself.
	PrivateKey string `yaml:"private_key,omitempty"`
	// AccessToken is a pre-issued token. It is only read from the environment.
	AccessToken string `yaml:"-"`
	// InstanceURL is the instance a pre-issued token belongs to.
	InstanceURL string `yaml:"instance_url,omitempty"`
	// Exclude lists metadata type names that are never deployed.
	Exclude []string `yaml:"exclude,omitempty"`
	// StateFile is the path to the JSON record of the last run.
	StateFile string `yaml:"state_file"`
	// Timeout is the duration of a single remote call.
	Timeout time.Duration `yaml:"timeout"`
	// BaseRevision is the older revision of the change comparison.
	BaseRevision string `yaml:"base_revision,omitempty"`
	// HeadRevision is the newer revision of the change comparison.
	HeadRevision string `yaml:"head_revision,omitempty"`
	// Deploy holds the options sent with every submission.
	Deploy DeploySettings `yaml:"deploy"`
}

// DeploySettings are the user facing deploy options.
// Pointer fields distinguish an explicit false from an omitted value.
type DeploySettings struct {
	// CheckOnly validates without committing.
	CheckOnly bool `yaml:"check_only"`
	// TestLevel is one of NoTestRun, RunSpecifiedTests, RunLocalTests, RunAllTestsInOrg.
	TestLevel string `yaml:"test_level"`
	// Tests are the test classes run with RunSpecifiedTests.
	Tests []string `yaml:"tests,omitempty"`
	// RollbackOnError defaults to true.
	RollbackOnError *bool `yaml:"rollback_on_error,omitempty"`
	// SinglePackage defaults to true.
	SinglePackage *bool `yaml:"single_package,omitempty"`
	// AllowMissingFiles defaults to false.
	AllowMissingFiles bool `yaml:"allow_missing_files"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "metadeploy.yaml"

	// DefaultDotenvFilename is the default dotenv file holding credentials.
	DefaultDotenvFilename = ".env"

	// DefaultSourceRoot is the default source directory of an SFDX project.
	DefaultSourceRoot = "force-app/main/default"

	// DefaultOutputDir is the default directory receiving generated artifacts.
	DefaultOutputDir = ".metadeploy_out"

	// DefaultAPIVersion is the default remote API version.
	DefaultAPIVersion = "58.0"

	// DefaultStateFilename is the default filename for the last run record.
	DefaultStateFilename = ".metadeploy-last-run.json"

	// DefaultTimeout is the default duration of a single remote call.
	DefaultTimeout = 2 * time.Minute

	// DefaultFilePermissions is the default file permission for settings and records.
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is the default permission of created directories.
	DefaultDirPermissions = 0o755

	// EnvironmentSandbox targets sandboxes and scratch orgs.
	EnvironmentSandbox = "sandbox"
	// EnvironmentProduction targets production and developer orgs.
	EnvironmentProduction = "production"

	// SandboxLoginURL is the login URL of sandboxes.
	SandboxLoginURL = "https://test.salesforce.com"
	// ProductionLoginURL is the login URL of production orgs.
	ProductionLoginURL = "https://login.salesforce.com"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownEnvironment is returned for environments other than sandbox and production.
	errUnknownEnvironment = errors.New("environment must be sandbox or production")
	// errUnsafeOutputDir is returned when wiping the output directory would destroy sources.
	errUnsafeOutputDir = errors.New("output directory must be a dedicated directory")
	// errInvalidURL is returned for malformed login or instance URLs.
	errInvalidURL = errors.New("invalid URL")
)

// Load reads configuration from the provided path and validates essential fields.
// A missing file at the default path yields the default configuration.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	var cfg Config

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case !explicit && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting
// and fills every omitted value with its default.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.SourceRoot == "" {
		settings.SourceRoot = DefaultSourceRoot
	}

	if settings.OutputDir == "" {
		settings.OutputDir = DefaultOutputDir
	}

	if err := CheckOutputDir("", settings.OutputDir, settings.SourceRoot); err != nil {
		return err
	}

	settings.APIVersion = strings.TrimPrefix(strings.TrimSpace(settings.APIVersion), "v")
	if settings.APIVersion == "" {
		settings.APIVersion = DefaultAPIVersion
	}

	settings.Environment = strings.ToLower(strings.TrimSpace(settings.Environment))
	switch settings.Environment {
	case "":
		settings.Environment = EnvironmentSandbox
	case EnvironmentSandbox, EnvironmentProduction:
	default:
		return fmt.Errorf("%w: %q", errUnknownEnvironment, settings.Environment)
	}

	for _, raw := range []string{settings.LoginURL, settings.InstanceURL} {
		if raw == "" {
			continue
		}

		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("%w: %s", errInvalidURL, err)
		}
	}

	// Set default timeout if not specified
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	// Set default state file if not specified
	if settings.StateFile == "" {
		settings.StateFile = DefaultStateFilename
	}

	level, err := deployment.ParseTestLevel(settings.Deploy.TestLevel)
	if err != nil {
		return err
	}

	settings.Deploy.TestLevel = string(level)

	return nil
}

// ResolvedLoginURL returns the configured login URL or the one of the environment.
func (c *Config) ResolvedLoginURL() string {
	if c.LoginURL != "" {
		return strings.TrimRight(c.LoginURL, "/")
	}

	if c.Environment == EnvironmentProduction {
		return ProductionLoginURL
	}

	return SandboxLoginURL
}

// HasStaticSession reports whether a pre-issued token and its instance are configured.
func (c *Config) HasStaticSession() bool {
	return c.AccessToken != "" && c.InstanceURL != ""
}

// IsExcluded reports whether a metadata type is on the exclude list.
func (c *Config) IsExcluded(typeName string) bool {
	for _, excluded := range c.Exclude {
		if strings.EqualFold(strings.TrimSpace(excluded), typeName) {
			return true
		}
	}

	return false
}

// DeployOptions resolves the deploy settings into fully specified options.
func (c *Config) DeployOptions() (deployment.Options, error) {
	level, err := deployment.ParseTestLevel(c.Deploy.TestLevel)
	if err != nil {
		return deployment.Options{}, err
	}

	opts := deployment.NewOptions()
	opts.CheckOnly = c.Deploy.CheckOnly
	opts.TestLevel = level
	opts.AllowMissingFiles = c.Deploy.AllowMissingFiles

	for _, test := range c.Deploy.Tests {
		if test = strings.TrimSpace(test); test != "" {
			opts.SpecifiedTests = append(opts.SpecifiedTests, test)
		}
	}

	if c.Deploy.RollbackOnError != nil {
		opts.RollbackOnError = *c.Deploy.RollbackOnError
	}

	if c.Deploy.SinglePackage != nil {
		opts.SinglePackage = *c.Deploy.SinglePackage
	}

	return opts, nil
}

// CheckOutputDir refuses output directories whose removal would destroy the working copy:
// the working directory itself, any of its parents and any directory holding the source root.
// Relative paths are resolved against workDir, or the current directory when it is empty.
func CheckOutputDir(workDir, outputDir, sourceRoot string) error {
	if strings.TrimSpace(outputDir) == "" {
		return fmt.Errorf("%w: empty path", errUnsafeOutputDir)
	}

	base, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("%w: resolve working directory: %w", errUnsafeOutputDir, err)
	}

	output := absoluteIn(base, outputDir)

	if containsPath(output, base) {
		return fmt.Errorf("%w: %s contains the working directory", errUnsafeOutputDir, outputDir)
	}

	if containsPath(output, absoluteIn(base, sourceRoot)) {
		return fmt.Errorf("%w: %s contains the source root", errUnsafeOutputDir, outputDir)
	}

	return nil
}

// absoluteIn resolves path against the absolute base directory.
func absoluteIn(base, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(base, path)
}

// containsPath reports whether child is parent or lies below it.
// Paths that cannot be related count as contained.
func containsPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return true
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
