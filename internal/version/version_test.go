package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCurrentVersion(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })
	Version = "0.3.0-dev"

	assert.Equal(t, "0.3.0-dev", GetCurrentVersion("dev"))
	assert.Equal(t, "0.3.0-dev", GetCurrentVersion("demo"))
	assert.Equal(t, "0.3.0", GetCurrentVersion("prod"))
}

func TestStringFull(t *testing.T) {
	origVersion, origCommit, origBranch, origBuild := Version, GitCommit, GitBranch, BuildTime
	t.Cleanup(func() {
		Version, GitCommit, GitBranch, BuildTime = origVersion, origCommit, origBranch, origBuild
	})

	Version = "0.3.0"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
	assert.Equal(t, "Version=0.3.0", StringFull())

	GitCommit = "0123456789abcdef"
	GitBranch = "main"
	BuildTime = "2026-08-31T00:00:00Z"
	assert.Equal(t, "Version=0.3.0 Commit=01234567 Branch=main BuildTime=2026-08-31T00:00:00Z", StringFull())
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "", shortCommit(""))
	assert.Equal(t, "", shortCommit("unknown"))
	assert.Equal(t, "abc123", shortCommit("abc123"))
	assert.Equal(t, "0123456789"[:8], shortCommit("0123456789abcdef"))
}
