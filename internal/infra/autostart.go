package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

const autostartLabel = "com.applock.agent"

// LaunchAgent plist template (runs as user at login)
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>run</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Interactive</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

// XDG autostart entry (linux desktop sessions)
const desktopEntryTemplate = `[Desktop Entry]
Type=Application
Name=AppLock
Comment=Password-protect selected applications
Exec="{{.ExecutablePath}}" run
Terminal=false
X-GNOME-Autostart-enabled=true
NoDisplay=true
`

// AutostartFormat selects the login-item flavor.
type AutostartFormat string

const (
	AutostartLaunchd AutostartFormat = "launchd"
	AutostartXDG     AutostartFormat = "xdg"
)

type autostartConfig struct {
	Label          string
	ExecutablePath string
	ErrorLogPath   string
}

// FileAutostart implements domain.AutostartManager with a file the desktop
// session reads at login: a LaunchAgent plist on macOS, a .desktop entry on Linux.
type FileAutostart struct {
	format  AutostartFormat
	path    string
	logPath string
	run     func(name string, args ...string) error
}

// NewFileAutostart creates a file-based autostart manager.
// run executes service-manager commands; nil uses os/exec.
func NewFileAutostart(format AutostartFormat, path, logPath string, run func(string, ...string) error) *FileAutostart {
	if run == nil {
		run = func(name string, args ...string) error { return exec.Command(name, args...).Run() }
	}
	return &FileAutostart{format: format, path: path, logPath: logPath, run: run}
}

// autostartPathFor returns where the login item lives for a platform.
func autostartPathFor(goos, home string, getenv func(string) string) (AutostartFormat, string, error) {
	switch goos {
	case "darwin":
		return AutostartLaunchd, filepath.Join(home, "Library", "LaunchAgents", autostartLabel+".plist"), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		base := getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return AutostartXDG, filepath.Join(base, "autostart", "applock.desktop"), nil
	default:
		return "", "", fmt.Errorf("autostart not supported on %s", goos)
	}
}

// Content renders the login item for execPath.
func (a *FileAutostart) Content(execPath string) ([]byte, error) {
	tmplStr := desktopEntryTemplate
	if a.format == AutostartLaunchd {
		tmplStr = launchAgentTemplate
	}

	tmpl, err := template.New("autostart").Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse autostart template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, autostartConfig{
		Label:          autostartLabel,
		ExecutablePath: execPath,
		ErrorLogPath:   a.logPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute autostart template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the login item and, for launchd, loads it.
func (a *FileAutostart) Install(execPath string) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return err
	}
	content, err := a.Content(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(a.path, content, 0644); err != nil {
		return err
	}
	if a.format == AutostartLaunchd {
		return a.run("launchctl", "load", "-w", a.path)
	}
	return nil
}

// Uninstall unloads (launchd) and removes the login item.
func (a *FileAutostart) Uninstall() error {
	if a.format == AutostartLaunchd {
		_ = a.run("launchctl", "unload", a.path)
	}
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled checks if the login item exists.
func (a *FileAutostart) IsInstalled() bool {
	_, err := os.Stat(a.path)
	return err == nil
}

// NeedsUpdate reports whether the installed item points somewhere else.
func (a *FileAutostart) NeedsUpdate(execPath string) bool {
	if !a.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(a.path)
	if err != nil {
		return true
	}
	expected, err := a.Content(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Path returns the login item location.
func (a *FileAutostart) Path() string { return a.path }

// Ensure FileAutostart implements domain.AutostartManager.
var _ domain.AutostartManager = (*FileAutostart)(nil)
