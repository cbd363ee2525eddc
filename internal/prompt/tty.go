package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// deadlineReadWriter is a terminal whose reads can be interrupted.
type deadlineReadWriter interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// TTY asks for the secret on the controlling terminal with echo disabled.
type TTY struct {
	open func() (*os.File, error)
	now  func() time.Time
}

// NewTTY returns a TTY prompter reading from the controlling terminal.
func NewTTY() *TTY {
	return &TTY{open: openTerminal, now: time.Now}
}

// PromptSecret implements domain.Prompter.
func (t *TTY) PromptSecret(ctx context.Context, req domain.PromptRequest) (string, bool, error) {
	f, err := t.open()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", domain.ErrNoPromptBackend, err)
	}
	defer f.Close()

	// f.Fd() would put the file in blocking mode and disable read deadlines.
	rc, err := f.SyscallConn()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", domain.ErrNoPromptBackend, err)
	}
	var (
		isTerm bool
		state  *term.State
		rawErr error
	)
	if err := rc.Control(func(fd uintptr) {
		if isTerm = term.IsTerminal(int(fd)); isTerm {
			state, rawErr = term.MakeRaw(int(fd))
		}
	}); err != nil {
		return "", false, fmt.Errorf("%w: %v", domain.ErrNoPromptBackend, err)
	}
	if !isTerm {
		return "", false, fmt.Errorf("%w: not a terminal", domain.ErrNoPromptBackend)
	}
	if rawErr != nil {
		return "", false, fmt.Errorf("failed to set raw mode: %w", rawErr)
	}
	defer func() {
		_ = rc.Control(func(fd uintptr) { _ = term.Restore(int(fd), state) })
	}()

	return readSecret(ctx, f, req, t.now)
}

// readSecret shows the prompt and reads one hidden line from rw.
// The read is bounded by req.Timeout and by ctx.
func readSecret(ctx context.Context, rw deadlineReadWriter, req domain.PromptRequest, now func() time.Time) (string, bool, error) {
	if req.Timeout > 0 {
		if err := rw.SetReadDeadline(now().Add(req.Timeout)); err != nil {
			return "", false, fmt.Errorf("terminal does not support deadlines: %w", err)
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = rw.SetReadDeadline(now())
		case <-done:
		}
	}()

	tm := term.NewTerminal(rw, "")
	secret, err := tm.ReadPassword(fmt.Sprintf("[%s] %s is locked. Password: ", dialogTitle, req.AppName))
	switch {
	case err == nil:
		return secret, true, nil
	case ctx.Err() != nil:
		return "", false, ctx.Err()
	case errors.Is(err, os.ErrDeadlineExceeded):
		fmt.Fprint(rw, "\r\ntimed out\r\n")
		return "", false, domain.ErrPromptTimeout
	case errors.Is(err, io.EOF):
		return "", false, nil
	default:
		return "", false, err
	}
}

var _ domain.Prompter = (*TTY)(nil)
