package buildinfo

import (
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func stubBuildInfo(t *testing.T, bi *debug.BuildInfo, ok bool) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, ok }
	t.Cleanup(func() { readBuildInfo = orig })
}

func TestReadUsesVCSSettings(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{
		GoVersion: "go1.24.0",
		Main:      debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "4f1c2a9be07d55c3a1f0e2d9c8b7a6f5e4d3c2b1"},
			{Key: "vcs.time", Value: "2025-03-14T09:30:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}, true)

	info := Read()
	require.Equal(t, "dev", info.Version)
	require.Equal(t, "go1.24.0", info.GoVersion)
	require.True(t, info.CommitAt.Equal(time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)))
	require.Equal(t, "4f1c2a9be07d+dirty", info.ShortCommit())
	require.Equal(t, "dev (4f1c2a9be07d+dirty)", info.String())
}

func TestReadPrefersStampedVersion(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "v0.3.0"}}, true)
	require.Equal(t, "v0.3.0", Version())

	orig := version
	version = "v1.0.0-rc1"
	t.Cleanup(func() { version = orig })
	info := Read()
	require.Equal(t, "v1.0.0-rc1", info.Version)
	require.Empty(t, info.ShortCommit())
	require.Equal(t, "v1.0.0-rc1", info.String())
}

func TestReadWithoutBuildInfo(t *testing.T) {
	stubBuildInfo(t, nil, false)
	require.Equal(t, Info{Version: "dev"}, Read())
}
