//go:build !windows

package prompt

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

type promptResult struct {
	secret string
	ok     bool
	err    error
}

// ptyPrompter returns a TTY bound to a fresh pty slave and the master side.
func ptyPrompter(t *testing.T) (*TTY, *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		slave.Close()
		master.Close()
	})
	go func() { _, _ = io.Copy(io.Discard, master) }()

	return &TTY{open: func() (*os.File, error) { return slave, nil }, now: time.Now}, master
}

func promptAsync(ctx context.Context, tty *TTY, req domain.PromptRequest) <-chan promptResult {
	ch := make(chan promptResult, 1)
	go func() {
		secret, ok, err := tty.PromptSecret(ctx, req)
		ch <- promptResult{secret, ok, err}
	}()
	return ch
}

func TestTTY_PromptSecret_TimesOutOnTerminal(t *testing.T) {
	tty, _ := ptyPrompter(t)

	start := time.Now()
	select {
	case res := <-promptAsync(context.Background(), tty, domain.PromptRequest{AppName: "Firefox", Timeout: 300 * time.Millisecond}):
		assert.False(t, res.ok)
		assert.ErrorIs(t, res.err, domain.ErrPromptTimeout)
		assert.Less(t, time.Since(start), 3*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("prompt ignored its timeout")
	}
}

func TestTTY_PromptSecret_ContextCancelOnTerminal(t *testing.T) {
	tty, _ := ptyPrompter(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	select {
	case res := <-promptAsync(ctx, tty, domain.PromptRequest{AppName: "Firefox", Timeout: time.Minute}):
		assert.False(t, res.ok)
		assert.ErrorIs(t, res.err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("prompt ignored context cancellation")
	}
}

func TestTTY_PromptSecret_SubmittedOnTerminal(t *testing.T) {
	tty, master := ptyPrompter(t)

	ch := promptAsync(context.Background(), tty, domain.PromptRequest{AppName: "Firefox", Timeout: 5 * time.Second})
	time.Sleep(100 * time.Millisecond)
	_, err := master.Write([]byte("hunter2\r"))
	require.NoError(t, err)

	select {
	case res := <-ch:
		require.NoError(t, res.err)
		assert.True(t, res.ok)
		assert.Equal(t, "hunter2", res.secret)
	case <-time.After(5 * time.Second):
		t.Fatal("prompt never returned the submitted secret")
	}
}

func TestTTY_PromptSecret_NotATerminal(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	tty := &TTY{open: func() (*os.File, error) { return r, nil }, now: time.Now}

	_, ok, err := tty.PromptSecret(context.Background(), domain.PromptRequest{Timeout: time.Second})
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrNoPromptBackend)
}
