package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutostartPathFor(t *testing.T) {
	format, path, err := autostartPathFor("darwin", "/Users/bob", noEnv)
	require.NoError(t, err)
	assert.Equal(t, AutostartLaunchd, format)
	assert.Equal(t, filepath.Join("/Users/bob", "Library", "LaunchAgents", "com.applock.agent.plist"), path)

	format, path, err = autostartPathFor("linux", "/home/bob", noEnv)
	require.NoError(t, err)
	assert.Equal(t, AutostartXDG, format)
	assert.Equal(t, filepath.Join("/home/bob", ".config", "autostart", "applock.desktop"), path)

	_, path, err = autostartPathFor("linux", "/home/bob", func(k string) string {
		if k == "XDG_CONFIG_HOME" {
			return "/cfg"
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/cfg", "autostart", "applock.desktop"), path)

	_, _, err = autostartPathFor("plan9", "/", noEnv)
	assert.Error(t, err)
}

type recordedCmd struct {
	name string
	args []string
}

func TestFileAutostart_LaunchdInstallUninstall(t *testing.T) {
	var cmds []recordedCmd
	run := func(name string, args ...string) error {
		cmds = append(cmds, recordedCmd{name, args})
		return nil
	}
	path := filepath.Join(t.TempDir(), "LaunchAgents", "com.applock.agent.plist")
	a := NewFileAutostart(AutostartLaunchd, path, "/tmp/applock.err", run)

	assert.False(t, a.IsInstalled())
	require.NoError(t, a.Install("/usr/local/bin/applock"))
	assert.True(t, a.IsInstalled())
	assert.False(t, a.NeedsUpdate("/usr/local/bin/applock"))
	assert.True(t, a.NeedsUpdate("/opt/applock"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "<string>/usr/local/bin/applock</string>")
	assert.Contains(t, string(content), "<string>run</string>")
	assert.Contains(t, string(content), "com.applock.agent")

	require.Len(t, cmds, 1)
	assert.Equal(t, "launchctl", cmds[0].name)
	assert.Equal(t, []string{"load", "-w", path}, cmds[0].args)

	require.NoError(t, a.Uninstall())
	assert.False(t, a.IsInstalled())
	assert.Equal(t, "unload", cmds[1].args[0])
}

func TestFileAutostart_XDG(t *testing.T) {
	called := false
	run := func(string, ...string) error {
		called = true
		return nil
	}
	path := filepath.Join(t.TempDir(), "autostart", "applock.desktop")
	a := NewFileAutostart(AutostartXDG, path, "", run)

	require.NoError(t, a.Install("/home/bob/bin/applock"))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "[Desktop Entry]"))
	assert.Contains(t, string(content), `Exec="/home/bob/bin/applock" run`)
	assert.False(t, called, "xdg entries need no service manager")

	require.NoError(t, a.Uninstall())
	assert.NoError(t, a.Uninstall(), "uninstall twice is fine")
	assert.Equal(t, path, a.Path())
}
