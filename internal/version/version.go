// Package version carries build metadata set with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release tag of the radar-api binary
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for the -version flag and the startup log.
func String() string {
	return fmt.Sprintf("radar-api %s (%s, built %s)", Version, GitSHA, BuildTime)
}
