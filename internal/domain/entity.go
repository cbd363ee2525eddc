// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"strconv"
	"time"
)

// AppKind distinguishes how a protected app is identified.
type AppKind string

const (
	// AppKindExecutable is matched by full executable path.
	AppKindExecutable AppKind = "exe"
	// AppKindPackaged is a store/packaged app, matched by name only.
	AppKindPackaged AppKind = "packaged"
)

// Valid reports whether k is a known kind.
func (k AppKind) Valid() bool {
	return k == AppKindExecutable || k == AppKindPackaged
}

// ProtectedApp is one entry of the locked-app registry.
type ProtectedApp struct {
	ID          int64
	Key         string // Executable path, or package identity for packaged apps
	DisplayName string
	Kind        AppKind
	Active      bool
	CreatedAt   time.Time
}

// ProcessRecord is one process as seen by a single snapshot.
// ExePath and Name may be empty when the OS refused to tell us.
type ProcessRecord struct {
	PID       int
	ExePath   string
	Name      string
	CreatedAt time.Time // zero when unknown
}

// Outcome is the verdict of an interception attempt.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeGranted  Outcome = "granted"
	OutcomeDenied   Outcome = "denied"
	OutcomeTimedOut Outcome = "timed_out"
)

// Terminal reports whether the outcome is final.
func (o Outcome) Terminal() bool {
	return o == OutcomeGranted || o == OutcomeDenied || o == OutcomeTimedOut
}

// Denial reasons recorded on attempts and in the audit log.
const (
	ReasonAccepted        = "accepted"
	ReasonWrongSecret     = "wrong_secret"
	ReasonCancelled       = "cancelled"
	ReasonTimeout         = "timeout"
	ReasonNoSecret        = "no_secret_configured"
	ReasonVerifierError   = "verifier_error"
	ReasonPromptError     = "prompt_error"
	ReasonInternalFailure = "internal_failure"
)

// InterceptionAttempt tracks one challenge for one launched process.
// Never persisted directly; the audit log gets an AccessLogEntry instead.
type InterceptionAttempt struct {
	ID         string
	App        ProtectedApp
	Process    ProcessRecord
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Reason     string

	Suspended      bool  // process was paused while the prompt was up
	Terminated     bool  // process is known to be gone after enforcement
	ForceKilled    bool  // graceful termination did not finish within the grace period
	TerminationErr error // set when enforcement could not be carried out
	AuditErr       error
}

// AccessLogEntry is one row of the audit log.
type AccessLogEntry struct {
	ID       int64
	AppName  string
	AppPath  string
	Granted  bool
	Outcome  Outcome
	Reason   string
	UserName string
	At       time.Time
}

// PackagedDetection is a name match against a packaged-app entry.
// Detection only: it never triggers a prompt or termination.
type PackagedDetection struct {
	App         ProtectedApp
	PID         int
	ProcessName string
}

// CycleResult captures what happened during a single poll cycle.
type CycleResult struct {
	Observed           int
	NewProcesses       int
	ProtectionDisabled bool
	Attempts           []InterceptionAttempt
	Survivors          []int // matched pids outside the recency window
	Detections         []PackagedDetection
	Errors             []error
	ExecutedAt         time.Time
	DurationMs         int64
}

// AgentState is persisted by the running agent so the CLI can find it.
type AgentState struct {
	Version       int    `json:"version"`
	PID           int    `json:"pid"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	Mode          string `json:"mode,omitempty"` // "user" or "system"
	AppVersion    string `json:"app_version,omitempty"`
}

// Runtime setting keys stored in the settings table.
const (
	SettingProtectionEnabled = "protection_enabled"
	SettingAutoCloseTimeout  = "auto_close_timeout"
	SettingLogAttempts       = "log_attempts"
	SettingSuspendOnPrompt   = "suspend_on_prompt"
	SettingStealthMode       = "stealth_mode"
)

// Defaults for runtime settings.
const (
	DefaultProtectionEnabled = true
	DefaultAutoCloseTimeout  = 15 // seconds
	DefaultLogAttempts       = true
	DefaultSuspendOnPrompt   = true
	DefaultStealthMode       = false
)

// KnownSettings lists every runtime setting with its default rendered as text.
var KnownSettings = map[string]string{
	SettingProtectionEnabled: "true",
	SettingAutoCloseTimeout:  "15",
	SettingLogAttempts:       "true",
	SettingSuspendOnPrompt:   "true",
	SettingStealthMode:       "false",
}

// ValidateSetting checks that value is acceptable for a known runtime setting.
func ValidateSetting(key, value string) error {
	if _, ok := KnownSettings[key]; !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	switch key {
	case SettingAutoCloseTimeout:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive number of seconds", key)
		}
	default:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
	}
	return nil
}
