package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	require.NotEmpty(t, Version)
	require.Equal(t, Version, String())

	prevCommit, prevTime := GitCommit, BuildTime
	t.Cleanup(func() { GitCommit, BuildTime = prevCommit, prevTime })
	GitCommit, BuildTime = "abc123", "2026-01-01"
	require.Equal(t, Version+" (abc123, built 2026-01-01)", String())
}
