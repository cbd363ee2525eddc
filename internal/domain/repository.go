package domain

import (
	"context"
	"time"
)

// ProcessSource enumerates live OS processes.
// Implementation: uses gopsutil for cross-platform support.
type ProcessSource interface {
	// Snapshot lists every visible process. Unreadable fields are left
	// empty; an unreadable process never fails the whole snapshot.
	Snapshot(ctx context.Context) ([]ProcessRecord, error)
}

// ProcessController acts on a single OS process.
type ProcessController interface {
	// Terminate asks the process to exit (SIGTERM on Unix).
	Terminate(pid int) error

	// WaitForExit polls until the process is gone or timeout elapses.
	// Returns true if the process exited.
	WaitForExit(ctx context.Context, pid int, timeout time.Duration) (bool, error)

	// ForceKill terminates a process by PID (SIGKILL).
	ForceKill(pid int) error

	// Suspend pauses the process (SIGSTOP on Unix).
	Suspend(pid int) error

	// Resume continues a suspended process.
	Resume(pid int) error

	// IsRunning checks if a PID exists and is not a zombie.
	IsRunning(pid int) bool
}

// ProcessManager is the full process capability used by the agent.
type ProcessManager interface {
	ProcessSource
	ProcessController
}

// AppRegistry is the read side of the locked-app list used by the monitor.
type AppRegistry interface {
	// ActiveApps returns an atomic point-in-time copy of all active entries.
	ActiveApps(ctx context.Context) ([]ProtectedApp, error)
}

// AppStore is the full locked-app registry used by configuration actions.
type AppStore interface {
	AppRegistry

	// AddApp stores a new entry and returns it with ID and CreatedAt set.
	AddApp(ctx context.Context, app ProtectedApp) (ProtectedApp, error)

	// RemoveApp deletes an entry by ID.
	RemoveApp(ctx context.Context, id int64) error

	// SetAppActive enables or disables an entry without deleting it.
	SetAppActive(ctx context.Context, id int64, active bool) error

	// ListApps returns every entry, active or not.
	ListApps(ctx context.Context) ([]ProtectedApp, error)

	// IsLocked reports whether an active executable entry has this path.
	IsLocked(ctx context.Context, path string) (bool, error)
}

// SettingsStore provides runtime settings that can change while the agent runs.
// Missing keys yield the supplied default.
type SettingsStore interface {
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	GetInt(ctx context.Context, key string, def int) (int, error)
	SetSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
}

// CredentialVerifier checks a submitted secret against the stored hash.
type CredentialVerifier interface {
	Verify(ctx context.Context, candidate string) (bool, error)
	HasSecret(ctx context.Context) (bool, error)
}

// CredentialStore can also replace the master secret.
type CredentialStore interface {
	CredentialVerifier
	SetMasterSecret(ctx context.Context, secret string) error
}

// AuditLog is the append-only record of access decisions.
type AuditLog interface {
	LogAttempt(ctx context.Context, entry AccessLogEntry) error
}

// AuditReader exposes the audit log to the CLI.
type AuditReader interface {
	RecentAttempts(ctx context.Context, limit int) ([]AccessLogEntry, error)
	ClearAttempts(ctx context.Context) error
}

// PromptRequest describes one challenge shown to the user.
type PromptRequest struct {
	AppName string
	AppPath string
	Timeout time.Duration
}

// Prompter is the blocking challenge UI.
type Prompter interface {
	// PromptSecret blocks until the user submits, cancels or the timeout
	// elapses. ok is false on cancel. A timeout returns ErrPromptTimeout.
	PromptSecret(ctx context.Context, req PromptRequest) (secret string, ok bool, err error)
}

// Interceptor drives the challenge/verdict/enforcement sequence for one match.
type Interceptor interface {
	// Intercept always returns an attempt with a terminal outcome.
	Intercept(ctx context.Context, proc ProcessRecord, app ProtectedApp) InterceptionAttempt
}

// AgentStateStore records the running agent for status and stop commands.
// Implementation: JSON file in the data directory.
type AgentStateStore interface {
	// Register saves the agent PID and start time.
	Register(state AgentState) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat() error

	// Get returns the current state, or nil if no agent ever registered.
	Get() (*AgentState, error)

	// Clear removes the state file.
	Clear() error

	// Path returns the state file path (for tests).
	Path() string
}

// KeyProvider abstracts the source of the store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// AutostartManager registers the agent to start at login.
type AutostartManager interface {
	Install(execPath string) error
	Uninstall() error
	IsInstalled() bool
	Path() string
}
