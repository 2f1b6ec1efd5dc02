// Package version exposes build metadata stamped in via ldflags.
package version

import (
	"fmt"
	"strings"
)

// Version is the released service version. Override at build time:
//
//	go build -ldflags "-X github.com/hrygo/mnemos/internal/version.Version=v0.3.0"
var Version = "0.0.0-dev"

// GitCommit, GitBranch and BuildTime are stamped the same way.
var (
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// GetCurrentVersion returns the version reported for the given run mode.
// Dev-like modes report the development version string unchanged.
func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return Version
	}
	return strings.TrimSuffix(Version, "-dev")
}

// StringFull renders the version plus whatever build metadata was stamped.
func StringFull() string {
	parts := []string{fmt.Sprintf("Version=%s", Version)}
	if commit := shortCommit(GitCommit); commit != "" {
		parts = append(parts, fmt.Sprintf("Commit=%s", commit))
	}
	if GitBranch != "" && GitBranch != "unknown" {
		parts = append(parts, fmt.Sprintf("Branch=%s", GitBranch))
	}
	if BuildTime != "" && BuildTime != "unknown" {
		parts = append(parts, fmt.Sprintf("BuildTime=%s", BuildTime))
	}
	return strings.Join(parts, " ")
}

func shortCommit(commit string) string {
	if commit == "" || commit == "unknown" {
		return ""
	}
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
