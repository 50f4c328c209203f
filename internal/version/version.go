// Package version holds build information injected via -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X chatgate/internal/version.Version=v1.0.0 -X chatgate/internal/version.Commit=abc123 -X chatgate/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a single human-readable version line.
func Info() string {
	return fmt.Sprintf("chatgate %s (commit: %s, built: %s)", Version, Commit, Date)
}
