package deployment

import (
	"fmt"
	"slices"
	"strings"
)

// TestLevel selects which tests the remote platform runs during a deployment.
type TestLevel string

const (
	// NoTestRun skips tests entirely.
	NoTestRun TestLevel = "NoTestRun"
	// RunSpecifiedTests runs only the tests named in Options.SpecifiedTests.
	RunSpecifiedTests TestLevel = "RunSpecifiedTests"
	// RunLocalTests runs all tests of the target except managed package ones.
	RunLocalTests TestLevel = "RunLocalTests"
	// RunAllTestsInOrg runs every test of the target.
	RunAllTestsInOrg TestLevel = "RunAllTestsInOrg"
)

// ParseTestLevel matches a test level name case-insensitively.
func ParseTestLevel(s string) (TestLevel, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoTestRun, nil
	}

	for _, level := range []TestLevel{NoTestRun, RunSpecifiedTests, RunLocalTests, RunAllTestsInOrg} {
		if strings.EqualFold(s, string(level)) {
			return level, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownTestLevel, s)
}

// Options are the fully resolved deploy options sent with a submission.
// Build them with NewOptions so every default is applied in one place.
type Options struct {
	// CheckOnly validates the package without committing it.
	CheckOnly bool
	// TestLevel selects which tests run.
	TestLevel TestLevel
	// SpecifiedTests are test class names used with RunSpecifiedTests.
	SpecifiedTests []string
	// RollbackOnError rolls back the whole deployment on any failure.
	RollbackOnError bool
	// SinglePackage declares that the archive holds a single package.
	SinglePackage bool
	// AllowMissingFiles lets the platform skip manifest members missing from the archive.
	AllowMissingFiles bool
}

// NewOptions returns options with the platform defaults:
// no tests, rollback on error and a single package.
func NewOptions() Options {
	return Options{
		TestLevel:       NoTestRun,
		RollbackOnError: true,
		SinglePackage:   true,
	}
}

// RunTests returns the test names to send, which is non-empty only for RunSpecifiedTests.
func (o Options) RunTests() []string {
	if o.TestLevel != RunSpecifiedTests || len(o.SpecifiedTests) == 0 {
		return nil
	}

	return slices.Clone(o.SpecifiedTests)
}
