package version

import "fmt"

// Name is the binary name reported by the version command.
const Name = "metalwatch"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String renders the build information on one line per field.
func String() string {
	return fmt.Sprintf("%s\nversion: %s\ncommit: %s\nbuilt: %s\n", Name, Version, Commit, BuildDate)
}
