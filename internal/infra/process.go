// Package infra implements infrastructure concerns (process table, store, files).
package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// exitPollInterval is how often WaitForExit re-checks the process table.
const exitPollInterval = 100 * time.Millisecond

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() *ProcessManagerImpl {
	return &ProcessManagerImpl{}
}

// Snapshot lists every visible process. Fields the OS refuses to disclose
// are left empty; a process that vanished mid-read is still listed by pid.
func (pm *ProcessManagerImpl) Snapshot(ctx context.Context) ([]domain.ProcessRecord, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	records := make([]domain.ProcessRecord, 0, len(procs))
	for _, p := range procs {
		rec := domain.ProcessRecord{PID: int(p.Pid)}

		if exe, err := p.ExeWithContext(ctx); err == nil {
			rec.ExePath = exe
		}
		if name, err := p.NameWithContext(ctx); err == nil {
			rec.Name = name
		}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
			rec.CreatedAt = time.UnixMilli(ms)
		}

		records = append(records, rec)
	}
	return records, nil
}

// Terminate asks a process to exit (SIGTERM on Unix).
func (pm *ProcessManagerImpl) Terminate(pid int) error {
	p, err := pm.lookup(pid)
	if err != nil {
		return err
	}
	return classify(pid, p.Terminate())
}

// ForceKill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) ForceKill(pid int) error {
	p, err := pm.lookup(pid)
	if err != nil {
		return err
	}
	return classify(pid, p.Kill())
}

// Suspend pauses a process (SIGSTOP on Unix).
func (pm *ProcessManagerImpl) Suspend(pid int) error {
	p, err := pm.lookup(pid)
	if err != nil {
		return err
	}
	return classify(pid, p.Suspend())
}

// Resume continues a suspended process (SIGCONT on Unix).
func (pm *ProcessManagerImpl) Resume(pid int) error {
	p, err := pm.lookup(pid)
	if err != nil {
		return err
	}
	return classify(pid, p.Resume())
}

// IsRunning checks if a PID exists and is not a zombie.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		// Status is unsupported on some platforms; existence is enough.
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// WaitForExit polls until the process is gone, ctx is done or timeout elapses.
func (pm *ProcessManagerImpl) WaitForExit(ctx context.Context, pid int, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()

	for {
		if !pm.IsRunning(pid) {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return !pm.IsRunning(pid), nil
		case <-ticker.C:
		}
	}
}

func (pm *ProcessManagerImpl) lookup(pid int) (*process.Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d: %w", pid, domain.ErrProcessGone)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, classify(pid, err)
	}
	return p, nil
}

// classify maps OS errors onto the domain taxonomy.
func classify(pid int, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, syscall.ESRCH),
		errors.Is(err, os.ErrProcessDone):
		return fmt.Errorf("pid %d: %w", pid, domain.ErrProcessGone)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("pid %d: %w", pid, domain.ErrPermission)
	default:
		return fmt.Errorf("pid %d: %w", pid, err)
	}
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
