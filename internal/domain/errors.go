package domain

import "errors"

var (
	// ErrTransientEnumeration means one process could not be read. Skip it.
	ErrTransientEnumeration = errors.New("process metadata unavailable")

	// ErrPermission means the agent lacks the privilege to act on a process.
	// Reported, never retried.
	ErrPermission = errors.New("insufficient privilege")

	// ErrProcessGone means the target exited before we could act on it.
	ErrProcessGone = errors.New("process no longer exists")

	// ErrPromptTimeout is returned by a Prompter when nobody answered in time.
	// Treated exactly like a denial.
	ErrPromptTimeout = errors.New("prompt timed out")

	// ErrVerifier wraps any failure of the credential check. Fail closed.
	ErrVerifier = errors.New("credential verification failed")

	// ErrNoPromptBackend means no UI is available to show a challenge.
	ErrNoPromptBackend = errors.New("no prompt backend available")

	// ErrAppNotFound is returned for unknown registry IDs.
	ErrAppNotFound = errors.New("protected app not found")

	// ErrAlreadyLocked is returned when adding an app that is already registered.
	ErrAlreadyLocked = errors.New("app already locked")

	// ErrAlreadyRunning is returned when starting a monitor twice.
	ErrAlreadyRunning = errors.New("monitor already running")
)
