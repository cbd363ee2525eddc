//go:build windows

package infra

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

const (
	runKeyPath   = `Software\Microsoft\Windows\CurrentVersion\Run`
	runValueName = "AppLock"
)

// RunKeyAutostart implements domain.AutostartManager with the per-user Run key.
type RunKeyAutostart struct{}

// NewAutostartManager returns the login-item manager for this platform.
func NewAutostartManager(_ *ExecModeConfig) (domain.AutostartManager, error) {
	return &RunKeyAutostart{}, nil
}

// Install registers `"<execPath>" run` under HKCU Run.
func (a *RunKeyAutostart) Install(execPath string) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open run key: %w", err)
	}
	defer k.Close()
	return k.SetStringValue(runValueName, fmt.Sprintf(`"%s" run`, execPath))
}

// Uninstall removes the Run value.
func (a *RunKeyAutostart) Uninstall() error {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open run key: %w", err)
	}
	defer k.Close()
	if err := k.DeleteValue(runValueName); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return err
	}
	return nil
}

// IsInstalled checks for the Run value.
func (a *RunKeyAutostart) IsInstalled() bool {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer k.Close()
	_, _, err = k.GetStringValue(runValueName)
	return err == nil
}

// Path describes where the login item lives.
func (a *RunKeyAutostart) Path() string {
	return `HKCU\` + runKeyPath + `\` + runValueName
}

var _ domain.AutostartManager = (*RunKeyAutostart)(nil)
