package prompt

import (
	"os"
	"strings"
)

// environment is what backend detection needs from the host.
type environment struct {
	goos     string
	getenv   func(string) string
	lookPath func(string) (string, error)
	isWSL    func() bool
}

// hasDisplay returns true if a graphical session is available for dialogs.
func (e environment) hasDisplay() bool {
	switch e.goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return e.getenv("DISPLAY") != "" || e.getenv("WAYLAND_DISPLAY") != "" || e.isWSL()
	case "darwin", "windows":
		return true
	default:
		return false
	}
}

// dialogBackend returns the first usable dialog tool and its resolved path.
func (e environment) dialogBackend() (backend, string, bool) {
	if !e.hasDisplay() {
		return "", "", false
	}
	var candidates []backend
	switch e.goos {
	case "darwin":
		candidates = []backend{backendOsascript}
	case "windows":
		candidates = []backend{backendPowerShell}
	default:
		candidates = []backend{backendZenity, backendKDialog}
		if e.isWSL() {
			candidates = append(candidates, backendPowerShellWSL)
		}
	}
	for _, b := range candidates {
		if path, err := e.lookPath(string(b)); err == nil {
			return b, path, true
		}
	}
	return "", "", false
}

// isWSL returns true if running in Windows Subsystem for Linux.
func isWSL() bool {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	lower := strings.ToLower(string(data))
	return strings.Contains(lower, "microsoft") || strings.Contains(lower, "wsl")
}
