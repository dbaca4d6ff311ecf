package version

import (
	"bytes"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuildInfo(t *testing.T, settings ...debug.BuildSetting) {
	t.Helper()
	original := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
	t.Cleanup(func() {
		readBuildInfo = original
		ResetBuildVars()
	})
}

func TestGet(t *testing.T) {
	tests := []struct {
		name     string
		injected Info
		settings []debug.BuildSetting
		wantInfo Info
	}{
		{
			name:     "empty values use defaults",
			wantInfo: Info{Version: DefaultVersion, Commit: DefaultCommit, BuildTime: DefaultBuildTime},
		},
		{
			name:     "injected values win",
			injected: Info{Version: "v1.0.0", Commit: "abc123", BuildTime: "2025-01-01T00:00:00Z"},
			settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "fff"}},
			wantInfo: Info{Version: "v1.0.0", Commit: "abc123", BuildTime: "2025-01-01T00:00:00Z"},
		},
		{
			name:     "vcs stamp fills commit and time",
			injected: Info{Version: "v2.0.0"},
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "def456"},
				{Key: "vcs.time", Value: "2025-06-15T12:30:00Z"},
			},
			wantInfo: Info{Version: "v2.0.0", Commit: "def456", BuildTime: "2025-06-15T12:30:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			withBuildInfo(t, tt.settings...)
			SetBuildVars(tt.injected.Version, tt.injected.Commit, tt.injected.BuildTime)

			// Act
			info := Get()

			// Assert
			assert.Equal(t, tt.wantInfo, info)
		})
	}
}

func TestInfo_Write(t *testing.T) {
	info := Info{Version: "v1.0.0", Commit: "abc123", BuildTime: "2025-01-15T10:30:00Z"}

	t.Run("short", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, info.Write(&buf, true))
		assert.Equal(t, "v1.0.0\n", buf.String())
	})

	t.Run("full", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, info.Write(&buf, false))
		assert.Equal(t, "embedjob\nVersion: v1.0.0\nCommit: abc123\nBuilt: 2025-01-15T10:30:00Z\n", buf.String())
	})
}

func TestInfo_IsDevelopment(t *testing.T) {
	assert.True(t, Info{Version: DefaultVersion}.IsDevelopment())
	assert.False(t, Info{Version: "v1.0.0"}.IsDevelopment())
}
