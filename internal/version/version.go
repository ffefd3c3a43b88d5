package version

import "fmt"

// applicationName is used in the CLI banner and the HTTP user agent.
const applicationName = "metadeploy"

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.7.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("%s version: %s, commit: %s, built at: %s", applicationName, Version, Commit, BuildTime)
}

// UserAgent returns the value sent in the User-Agent header of API requests.
func UserAgent() string {
	return applicationName + "/" + Version
}
