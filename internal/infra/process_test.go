package infra

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

func TestSnapshot_IncludesSelf(t *testing.T) {
	pm := NewProcessManager()

	procs, err := pm.Snapshot(context.Background())
	require.NoError(t, err)

	var self *domain.ProcessRecord
	for i := range procs {
		if procs[i].PID == os.Getpid() {
			self = &procs[i]
			break
		}
	}
	require.NotNil(t, self, "own process must be listed")
	assert.NotEmpty(t, self.ExePath)
	assert.False(t, self.CreatedAt.IsZero())
	assert.True(t, self.CreatedAt.Before(time.Now().Add(time.Second)))
}

func TestIsRunning(t *testing.T) {
	pm := NewProcessManager()

	assert.True(t, pm.IsRunning(os.Getpid()))
	assert.False(t, pm.IsRunning(0))
	assert.False(t, pm.IsRunning(-1))
	assert.False(t, pm.IsRunning(99999999))
}

func TestTerminate_MissingProcess(t *testing.T) {
	pm := NewProcessManager()

	err := pm.Terminate(99999999)
	assert.ErrorIs(t, err, domain.ErrProcessGone)

	err = pm.ForceKill(0)
	assert.ErrorIs(t, err, domain.ErrProcessGone)
}

func TestWaitForExit_Timeout(t *testing.T) {
	pm := NewProcessManager()

	exited, err := pm.WaitForExit(context.Background(), os.Getpid(), 150*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, exited)
}

func TestWaitForExit_ContextCanceled(t *testing.T) {
	pm := NewProcessManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exited, err := pm.WaitForExit(ctx, os.Getpid(), time.Second)
	assert.False(t, exited)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no such process", err: syscall.ESRCH, want: domain.ErrProcessGone},
		{name: "already finished", err: os.ErrProcessDone, want: domain.ErrProcessGone},
		{name: "permission", err: &os.SyscallError{Syscall: "kill", Err: os.ErrPermission}, want: domain.ErrPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(1, tt.err), tt.want)
		})
	}

	assert.NoError(t, classify(1, nil))
	other := errors.New("boom")
	assert.ErrorIs(t, classify(1, other), other)
}
