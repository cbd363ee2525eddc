package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs as the logged-in user (no sudo required)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root / administrator
	ExecModeSystem ExecMode = "system"
)

const (
	appDirName     = "applock"
	logFileName    = "applock.log"
	stateFileName  = "agent.json"
	configFileName = "applock.yaml"
)

// ExecModeConfig holds paths based on execution mode.
type ExecModeConfig struct {
	Mode    ExecMode
	DataDir string // Where the database, key, log and state file live
	IsRoot  bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	return execModeFor(runtime.GOOS, os.Geteuid() == 0, GetRealUserHome(), os.Getenv)
}

// execModeFor resolves paths without touching the environment directly.
func execModeFor(goos string, isRoot bool, home string, getenv func(string) string) *ExecModeConfig {
	if goos == "windows" {
		base := getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
		return &ExecModeConfig{Mode: ExecModeUser, DataDir: filepath.Join(base, "AppLock")}
	}

	if isRoot {
		return &ExecModeConfig{
			Mode:    ExecModeSystem,
			DataDir: filepath.Join("/var/lib", appDirName),
			IsRoot:  true,
		}
	}
	return &ExecModeConfig{
		Mode:    ExecModeUser,
		DataDir: filepath.Join(home, "."+appDirName),
	}
}

// WithDataDir returns a copy rooted at dir (config override).
func (c *ExecModeConfig) WithDataDir(dir string) *ExecModeConfig {
	out := *c
	if dir != "" {
		out.DataDir = ExpandHome(dir)
	}
	return &out
}

// LogPath is the rotating agent log file.
func (c *ExecModeConfig) LogPath() string { return filepath.Join(c.DataDir, logFileName) }

// StatePath is the running-agent state file.
func (c *ExecModeConfig) StatePath() string { return filepath.Join(c.DataDir, stateFileName) }

// ConfigPath is the default agent config file.
func (c *ExecModeConfig) ConfigPath() string { return filepath.Join(c.DataDir, configFileName) }

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
