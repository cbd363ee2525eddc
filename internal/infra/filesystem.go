package infra

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading ~ to the real user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return GetRealUserHome()
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		return filepath.Join(GetRealUserHome(), path[2:])
	}
	return path
}

// NormalizeExecutablePath turns user input into the path the OS will report
// for a running process: home expanded, absolute, symlinks resolved.
// Resolution failures leave the cleaned absolute path.
func NormalizeExecutablePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	expanded := ExpandHome(path)
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

// DefaultDisplayName derives a display name from an executable path.
// "/Applications/Foo.app/Contents/MacOS/foo" and "C:\Apps\foo.exe" give "foo".
func DefaultDisplayName(path string) string {
	base := filepath.Base(strings.ReplaceAll(path, `\`, string(os.PathSeparator)))
	for _, ext := range []string{".exe", ".app", ".bin"} {
		if strings.HasSuffix(strings.ToLower(base), ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}
