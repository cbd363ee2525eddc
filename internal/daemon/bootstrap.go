package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// StartAgent spawns a detached "run" child of execPath.
// The child is detached from the parent process (new session, no stdio).
func StartAgent(execPath string, extraArgs ...string) (int, error) {
	if execPath == "" {
		self, err := os.Executable()
		if err != nil {
			return 0, err
		}
		execPath = self
	}

	args := append([]string{"run"}, extraArgs...)
	cmd := exec.Command(execPath, args...)
	cmd.SysProcAttr = detachedAttr()

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start agent: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// AgentStatus describes the agent recorded in the state file.
type AgentStatus struct {
	Running bool
	Stale   bool // state file exists but heartbeat is old or pid is gone
	State   *domain.AgentState
}

// QueryStatus inspects the state file and the recorded pid.
func QueryStatus(state domain.AgentStateStore, pc domain.ProcessController, staleAfter time.Duration) (AgentStatus, error) {
	st, err := state.Get()
	if err != nil {
		return AgentStatus{}, err
	}
	if st == nil {
		return AgentStatus{}, nil
	}

	status := AgentStatus{State: st}
	if !pc.IsRunning(st.PID) {
		status.Stale = true
		return status, nil
	}
	status.Running = true
	if staleAfter > 0 && time.Since(time.Unix(st.LastHeartbeat, 0)) > staleAfter {
		status.Stale = true
	}
	return status, nil
}

// StopTimeout is how long a stopping agent may take before it is killed.
// An in-flight prompt runs to its timeout, then a denied process gets the
// grace period; the second grace period covers loop and shutdown work.
func StopTimeout(promptTimeout, grace time.Duration) time.Duration {
	return promptTimeout + 2*grace
}

// StopAgent terminates the recorded agent, escalating to a kill after wait.
// A state file pointing at a dead pid is cleared.
func StopAgent(ctx context.Context, state domain.AgentStateStore, pc domain.ProcessController, wait time.Duration) error {
	st, err := state.Get()
	if err != nil {
		return err
	}
	if st == nil || !pc.IsRunning(st.PID) {
		_ = state.Clear()
		return fmt.Errorf("agent is not running")
	}
	if st.PID == os.Getpid() {
		return fmt.Errorf("refusing to stop own process")
	}

	if err := pc.Terminate(st.PID); err != nil {
		return fmt.Errorf("terminate agent %d: %w", st.PID, err)
	}
	exited, _ := pc.WaitForExit(ctx, st.PID, wait)
	if !exited {
		if err := pc.ForceKill(st.PID); err != nil {
			return fmt.Errorf("kill agent %d: %w", st.PID, err)
		}
	}
	// The agent clears its own state on a clean exit; cover the kill path.
	_ = state.Clear()
	return nil
}
