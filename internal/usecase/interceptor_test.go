package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

var (
	secretApp  = domain.ProtectedApp{ID: 1, Key: `C:\Apps\secret.exe`, DisplayName: "Secret", Kind: domain.AppKindExecutable, Active: true}
	secretProc = domain.ProcessRecord{PID: 4242, ExePath: `C:\Apps\secret.exe`, Name: "secret.exe", CreatedAt: time.Now()}
)

type fixture struct {
	ctl      *mockController
	prompter *mockPrompter
	verifier *mockVerifier
	settings *mockSettings
	audit    *mockAudit
}

func newFixture() *fixture {
	return &fixture{
		ctl:      &mockController{},
		prompter: &mockPrompter{},
		verifier: &mockVerifier{secret: "hunter2"},
		settings: &mockSettings{values: map[string]string{}},
		audit:    &mockAudit{},
	}
}

func (f *fixture) interceptor() *InterceptorImpl {
	i := NewInterceptor(f.ctl, f.prompter, f.verifier, f.settings, f.audit, zap.NewNop(),
		InterceptorConfig{GracePeriod: 10 * time.Millisecond, UserName: "alice"})
	i.newID = func() string { return "attempt-1" }
	return i
}

// TestNewInterceptor verifies defaults are applied
func TestNewInterceptor(t *testing.T) {
	f := newFixture()
	i := NewInterceptor(f.ctl, f.prompter, f.verifier, f.settings, f.audit, zap.NewNop(), InterceptorConfig{})

	require.NotNil(t, i)
	assert.Equal(t, DefaultGracePeriod, i.grace)
	assert.NotEmpty(t, i.newID())
}

func TestIntercept_CorrectSecretGrants(t *testing.T) {
	f := newFixture()
	f.prompter.secret, f.prompter.ok = "hunter2", true

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.Equal(t, domain.OutcomeGranted, a.Outcome)
	assert.Equal(t, domain.ReasonAccepted, a.Reason)
	assert.True(t, a.Outcome.Terminal())
	assert.Equal(t, "attempt-1", a.ID)
	assert.False(t, a.Terminated)
	assert.NotContains(t, f.ctl.Calls(), "terminate:4242")
	assert.NotContains(t, f.ctl.Calls(), "kill:4242")

	require.Len(t, f.audit.entries, 1)
	e := f.audit.entries[0]
	assert.True(t, e.Granted)
	assert.Equal(t, "Secret", e.AppName)
	assert.Equal(t, `C:\Apps\secret.exe`, e.AppPath)
	assert.Equal(t, "alice", e.UserName)
}

func TestIntercept_PromptUsesDisplayNameAndTimeout(t *testing.T) {
	f := newFixture()
	f.settings.values[domain.SettingAutoCloseTimeout] = "7"
	f.prompter.secret, f.prompter.ok = "hunter2", true

	f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	require.Len(t, f.prompter.requests, 1)
	assert.Equal(t, "Secret", f.prompter.requests[0].AppName)
	assert.Equal(t, 7*time.Second, f.prompter.requests[0].Timeout)
}

func TestIntercept_NonPositiveTimeoutFallsBackToDefault(t *testing.T) {
	f := newFixture()
	f.settings.values[domain.SettingAutoCloseTimeout] = "0"

	f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	require.Len(t, f.prompter.requests, 1)
	assert.Equal(t, 15*time.Second, f.prompter.requests[0].Timeout)
}

func TestIntercept_Denials(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(f *fixture)
		wantOutcome domain.Outcome
		wantReason  string
		wantPrompt  bool
	}{
		{
			name:        "wrong secret",
			setup:       func(f *fixture) { f.prompter.secret, f.prompter.ok = "nope", true },
			wantOutcome: domain.OutcomeDenied,
			wantReason:  domain.ReasonWrongSecret,
			wantPrompt:  true,
		},
		{
			name:        "cancelled",
			setup:       func(f *fixture) { f.prompter.ok = false },
			wantOutcome: domain.OutcomeDenied,
			wantReason:  domain.ReasonCancelled,
			wantPrompt:  true,
		},
		{
			name:        "timeout",
			setup:       func(f *fixture) { f.prompter.err = domain.ErrPromptTimeout },
			wantOutcome: domain.OutcomeTimedOut,
			wantReason:  domain.ReasonTimeout,
			wantPrompt:  true,
		},
		{
			name:        "prompt backend failure",
			setup:       func(f *fixture) { f.prompter.err = domain.ErrNoPromptBackend },
			wantOutcome: domain.OutcomeDenied,
			wantReason:  domain.ReasonPromptError,
			wantPrompt:  true,
		},
		{
			name: "verifier error fails closed",
			setup: func(f *fixture) {
				f.prompter.secret, f.prompter.ok = "hunter2", true
				f.verifier.verifyErr = domain.ErrVerifier
			},
			wantOutcome: domain.OutcomeDenied,
			wantReason:  domain.ReasonVerifierError,
			wantPrompt:  true,
		},
		{
			name:        "credential store unavailable",
			setup:       func(f *fixture) { f.verifier.hasErr = errors.New("db locked") },
			wantOutcome: domain.OutcomeDenied,
			wantReason:  domain.ReasonVerifierError,
		},
		{
			name:        "no secret configured",
			setup:       func(f *fixture) { f.verifier.noSecret = true },
			wantOutcome: domain.OutcomeDenied,
			wantReason:  domain.ReasonNoSecret,
		},
		{
			name:        "prompt panic",
			setup:       func(f *fixture) { f.prompter.panics = true },
			wantOutcome: domain.OutcomeDenied,
			wantReason:  domain.ReasonInternalFailure,
			wantPrompt:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.ctl.exitOnTerm = true
			tt.setup(f)

			a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

			assert.Equal(t, tt.wantOutcome, a.Outcome)
			assert.Equal(t, tt.wantReason, a.Reason)
			assert.Equal(t, tt.wantPrompt, len(f.prompter.requests) == 1)
			assert.Contains(t, f.ctl.Calls(), "terminate:4242", "denial always attempts termination")
			assert.True(t, a.Terminated)

			require.Len(t, f.audit.entries, 1, "exactly one audit entry")
			assert.False(t, f.audit.entries[0].Granted)
			assert.Equal(t, tt.wantReason, f.audit.entries[0].Reason)
		})
	}
}

func TestIntercept_ForceKillAfterGracePeriod(t *testing.T) {
	f := newFixture()
	f.ctl.exitOnTerm = false

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.True(t, a.Terminated)
	assert.True(t, a.ForceKilled)
	assert.Equal(t, []string{"suspend:4242", "terminate:4242", "resume:4242", "wait:4242", "kill:4242"}, f.ctl.Calls())
}

func TestIntercept_SuspendDisabled(t *testing.T) {
	f := newFixture()
	f.settings.values[domain.SettingSuspendOnPrompt] = "false"
	f.prompter.secret, f.prompter.ok = "hunter2", true

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.False(t, a.Suspended)
	assert.Empty(t, f.ctl.Calls())
}

func TestIntercept_GrantResumesSuspendedProcess(t *testing.T) {
	f := newFixture()
	f.prompter.secret, f.prompter.ok = "hunter2", true

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.True(t, a.Suspended)
	assert.Equal(t, []string{"suspend:4242", "resume:4242"}, f.ctl.Calls())
}

func TestIntercept_SuspendFailureStillPrompts(t *testing.T) {
	f := newFixture()
	f.ctl.suspendErr = domain.ErrPermission
	f.prompter.secret, f.prompter.ok = "hunter2", true

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.Equal(t, domain.OutcomeGranted, a.Outcome)
	assert.False(t, a.Suspended)
	assert.NotContains(t, f.ctl.Calls(), "resume:4242")
}

func TestIntercept_PermissionErrorReportedNotRetried(t *testing.T) {
	f := newFixture()
	f.ctl.terminateErr = domain.ErrPermission

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.Equal(t, domain.OutcomeDenied, a.Outcome)
	assert.ErrorIs(t, a.TerminationErr, domain.ErrPermission)
	assert.False(t, a.Terminated)

	terminates := 0
	for _, c := range f.ctl.Calls() {
		if c == "terminate:4242" {
			terminates++
		}
		assert.NotEqual(t, "kill:4242", c)
	}
	assert.Equal(t, 1, terminates)
}

func TestIntercept_ProcessAlreadyGone(t *testing.T) {
	f := newFixture()
	f.ctl.terminateErr = domain.ErrProcessGone

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.True(t, a.Terminated)
	assert.NoError(t, a.TerminationErr)
}

func TestIntercept_ForceKillFailure(t *testing.T) {
	f := newFixture()
	f.ctl.forceKillErr = errors.New("kill failed")

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.Error(t, a.TerminationErr)
	assert.False(t, a.Terminated)
}

func TestIntercept_EnforcementPanicContained(t *testing.T) {
	f := newFixture()
	f.ctl.panicOnTerm = true

	var a domain.InterceptionAttempt
	require.NotPanics(t, func() {
		a = f.interceptor().Intercept(context.Background(), secretProc, secretApp)
	})
	assert.Equal(t, domain.OutcomeDenied, a.Outcome)
	assert.Error(t, a.TerminationErr)
	assert.Len(t, f.audit.entries, 1)
}

func TestIntercept_AuditFailureDoesNotChangeVerdict(t *testing.T) {
	f := newFixture()
	f.audit.err = errors.New("disk full")
	f.prompter.secret, f.prompter.ok = "hunter2", true

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.Equal(t, domain.OutcomeGranted, a.Outcome)
	assert.Error(t, a.AuditErr)
}

func TestIntercept_LogAttemptsDisabled(t *testing.T) {
	f := newFixture()
	f.settings.values[domain.SettingLogAttempts] = "false"

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.Equal(t, domain.OutcomeDenied, a.Outcome)
	assert.Empty(t, f.audit.entries)
}

func TestIntercept_SettingsErrorUsesDefaults(t *testing.T) {
	f := newFixture()
	f.settings.err = errors.New("store closed")
	f.prompter.secret, f.prompter.ok = "hunter2", true

	a := f.interceptor().Intercept(context.Background(), secretProc, secretApp)

	assert.Equal(t, domain.OutcomeGranted, a.Outcome)
	require.Len(t, f.prompter.requests, 1)
	assert.Equal(t, 15*time.Second, f.prompter.requests[0].Timeout)
	assert.Len(t, f.audit.entries, 1)
}

func TestIntercept_AuditPathFallsBackToKey(t *testing.T) {
	f := newFixture()
	proc := secretProc
	proc.ExePath = ""

	f.interceptor().Intercept(context.Background(), proc, secretApp)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, secretApp.Key, f.audit.entries[0].AppPath)
}
