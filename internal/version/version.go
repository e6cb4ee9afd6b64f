// Package version holds build information stamped in via -ldflags.
package version

import "fmt"

// Set at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a human-readable version string.
func Info() string {
	return fmt.Sprintf("mcpgate %s (commit %s, built %s)", Version, Commit, Date)
}
