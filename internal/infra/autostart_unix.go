//go:build !windows

package infra

import (
	"os"
	"runtime"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// NewAutostartManager returns the login-item manager for this platform.
func NewAutostartManager(cfg *ExecModeConfig) (domain.AutostartManager, error) {
	format, path, err := autostartPathFor(runtime.GOOS, GetRealUserHome(), os.Getenv)
	if err != nil {
		return nil, err
	}
	return NewFileAutostart(format, path, cfg.LogPath()+".stderr", nil), nil
}
