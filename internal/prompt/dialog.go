package prompt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

type backend string

const (
	backendZenity        backend = "zenity"
	backendKDialog       backend = "kdialog"
	backendOsascript     backend = "osascript"
	backendPowerShell    backend = "powershell"
	backendPowerShellWSL backend = "powershell.exe"
)

const dialogTitle = "AppLock"

// zenity exits 5 when its own --timeout fires.
const zenityTimeoutExit = 5

// Runner executes a dialog tool and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Dialog asks for the secret through the desktop's native password dialog.
type Dialog struct {
	env environment
	run Runner
}

// NewDialog returns a Dialog prompter for the current host.
func NewDialog() *Dialog {
	return &Dialog{
		env: environment{
			goos:     runtime.GOOS,
			getenv:   os.Getenv,
			lookPath: exec.LookPath,
			isWSL:    isWSL,
		},
		run: execRunner,
	}
}

// Available reports whether a dialog tool can be shown right now.
func (d *Dialog) Available() bool {
	_, _, ok := d.env.dialogBackend()
	return ok
}

// PromptSecret implements domain.Prompter.
// Cancel or close returns ok=false. The timeout returns domain.ErrPromptTimeout.
func (d *Dialog) PromptSecret(ctx context.Context, req domain.PromptRequest) (string, bool, error) {
	b, path, ok := d.env.dialogBackend()
	if !ok {
		return "", false, domain.ErrNoPromptBackend
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	out, err := d.run(ctx, path, dialogArgs(b, req)...)
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", false, domain.ErrPromptTimeout
		}
		return "", false, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if b == backendZenity && exitErr.ExitCode() == zenityTimeoutExit {
				return "", false, domain.ErrPromptTimeout
			}
			// Cancel button, Escape or window closed.
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s: %w", b, err)
	}
	return strings.TrimRight(string(out), "\r\n"), true, nil
}

func promptMessage(req domain.PromptRequest) string {
	return fmt.Sprintf("%s is locked.\nEnter the master password to open it.", req.AppName)
}

// dialogArgs builds the command line for one backend.
func dialogArgs(b backend, req domain.PromptRequest) []string {
	msg := promptMessage(req)
	switch b {
	case backendZenity:
		args := []string{"--entry", "--hide-text", "--title=" + dialogTitle, "--text=" + msg}
		if secs := int(req.Timeout.Seconds()); secs > 0 {
			args = append(args, "--timeout="+strconv.Itoa(secs))
		}
		return args
	case backendKDialog:
		return []string{"--title", dialogTitle, "--password", msg}
	case backendOsascript:
		script := `text returned of (display dialog "` + escapeAppleScript(msg) + `" ` +
			`with title "` + dialogTitle + `" default answer "" with hidden answer ` +
			`buttons {"Cancel", "Unlock"} default button "Unlock" cancel button "Cancel")`
		return []string{"-e", script}
	case backendPowerShell, backendPowerShellWSL:
		return []string{"-NoProfile", "-NonInteractive", "-Command", powerShellScript(msg)}
	}
	return nil
}

func powerShellScript(msg string) string {
	return `Add-Type -AssemblyName System.Windows.Forms; ` +
		`$f = New-Object Windows.Forms.Form; $f.Text = "` + dialogTitle + `"; $f.TopMost = $true; ` +
		`$f.Width = 380; $f.Height = 170; $f.FormBorderStyle = "FixedDialog"; $f.StartPosition = "CenterScreen"; ` +
		`$l = New-Object Windows.Forms.Label; $l.Text = "` + escapePowerShell(msg) + `"; $l.AutoSize = $true; $l.Top = 10; $l.Left = 10; ` +
		`$t = New-Object Windows.Forms.TextBox; $t.UseSystemPasswordChar = $true; $t.Top = 55; $t.Left = 10; $t.Width = 340; ` +
		`$b = New-Object Windows.Forms.Button; $b.Text = "Unlock"; $b.Top = 90; $b.Left = 275; $b.DialogResult = "OK"; ` +
		`$f.AcceptButton = $b; $f.Controls.AddRange(@($l, $t, $b)); ` +
		`if ($f.ShowDialog() -eq "OK") { [Console]::Out.Write($t.Text); exit 0 } else { exit 1 }`
}

// escapeAppleScript escapes special characters for AppleScript strings.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// escapePowerShell escapes $, backtick and quotes inside a double-quoted string.
func escapePowerShell(s string) string {
	s = strings.ReplaceAll(s, "`", "``")
	s = strings.ReplaceAll(s, "$", "`$")
	s = strings.ReplaceAll(s, `"`, "`\"")
	s = strings.ReplaceAll(s, "\n", "`n")
	return s
}

var _ domain.Prompter = (*Dialog)(nil)
