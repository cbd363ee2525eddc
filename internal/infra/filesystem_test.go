package infra

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandHome(t *testing.T) {
	home := GetRealUserHome()

	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, filepath.Join(home, "bin", "tool"), ExpandHome("~/bin/tool"))
	assert.Equal(t, "/usr/bin/tool", ExpandHome("/usr/bin/tool"))
	assert.Equal(t, "~other/x", ExpandHome("~other/x"))
}

func TestNormalizeExecutablePath_ResolvesSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	target := filepath.Join(dir, "real-binary")
	require.NoError(t, os.WriteFile(target, []byte("#!/bin/sh\n"), 0755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	got, err := NormalizeExecutablePath("  " + link + "  ")
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNormalizeExecutablePath_MissingFileStaysAbsolute(t *testing.T) {
	got, err := NormalizeExecutablePath("does/not/../exist")
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "exist", filepath.Base(got))
}

func TestDefaultDisplayName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/usr/bin/firefox", "firefox"},
		{"/opt/Game.EXE", "Game"},
		{"/Applications/Slack.app", "Slack"},
		{"tool.bin", "tool"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultDisplayName(tt.path))
		})
	}
}
