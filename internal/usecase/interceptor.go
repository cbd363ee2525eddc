// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/metrics"
)

// DefaultGracePeriod is how long a denied process gets to exit before SIGKILL.
const DefaultGracePeriod = 3 * time.Second

// InterceptorConfig tunes dispatch.
type InterceptorConfig struct {
	GracePeriod time.Duration
	UserName    string // recorded in audit entries; current OS user when empty
}

// InterceptorImpl implements domain.Interceptor.
type InterceptorImpl struct {
	controller domain.ProcessController
	prompter   domain.Prompter
	verifier   domain.CredentialVerifier
	settings   domain.SettingsStore
	audit      domain.AuditLog
	logger     *zap.Logger

	grace    time.Duration
	userName string
	now      func() time.Time
	newID    func() string
}

// NewInterceptor creates the challenge/verdict/enforcement dispatcher.
func NewInterceptor(
	pc domain.ProcessController,
	prompter domain.Prompter,
	verifier domain.CredentialVerifier,
	settings domain.SettingsStore,
	audit domain.AuditLog,
	logger *zap.Logger,
	cfg InterceptorConfig,
) *InterceptorImpl {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.UserName == "" {
		cfg.UserName = currentUserName()
	}
	return &InterceptorImpl{
		controller: pc,
		prompter:   prompter,
		verifier:   verifier,
		settings:   settings,
		audit:      audit,
		logger:     logger,
		grace:      cfg.GracePeriod,
		userName:   cfg.UserName,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
}

// Intercept challenges the user for one matched launch and enforces the verdict.
// It always returns a terminal attempt and never panics.
func (i *InterceptorImpl) Intercept(ctx context.Context, proc domain.ProcessRecord, app domain.ProtectedApp) domain.InterceptionAttempt {
	attempt := domain.InterceptionAttempt{
		ID:        i.newID(),
		App:       app,
		Process:   proc,
		StartedAt: i.now(),
		Outcome:   domain.OutcomePending,
	}

	i.logger.Info("intercepting launch",
		zap.String("attempt", attempt.ID),
		zap.Int("pid", proc.PID),
		zap.String("app", app.DisplayName),
		zap.String("path", proc.ExePath))

	i.decide(ctx, &attempt)
	i.record(ctx, &attempt)
	i.enforce(ctx, &attempt)

	attempt.FinishedAt = i.now()
	metrics.IncAttempt(string(attempt.Outcome), attempt.Reason)

	i.logger.Info("interception finished",
		zap.String("attempt", attempt.ID),
		zap.Int("pid", proc.PID),
		zap.String("app", app.DisplayName),
		zap.String("outcome", string(attempt.Outcome)),
		zap.String("reason", attempt.Reason),
		zap.Bool("terminated", attempt.Terminated),
		zap.Bool("force_killed", attempt.ForceKilled))

	return attempt
}

// decide fills Outcome and Reason. A panic anywhere inside denies.
func (i *InterceptorImpl) decide(ctx context.Context, a *domain.InterceptionAttempt) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("panic while deciding, denying",
				zap.String("attempt", a.ID),
				zap.Any("panic", r))
			a.Outcome = domain.OutcomeDenied
			a.Reason = domain.ReasonInternalFailure
		}
	}()

	timeoutSec, err := i.settings.GetInt(ctx, domain.SettingAutoCloseTimeout, domain.DefaultAutoCloseTimeout)
	if err != nil {
		i.logger.Warn("failed to read prompt timeout, using default", zap.Error(err))
		timeoutSec = domain.DefaultAutoCloseTimeout
	}
	if timeoutSec <= 0 {
		timeoutSec = domain.DefaultAutoCloseTimeout
	}

	has, err := i.verifier.HasSecret(ctx)
	if err != nil {
		i.logger.Warn("credential store unavailable", zap.Error(err))
		a.Outcome, a.Reason = domain.OutcomeDenied, domain.ReasonVerifierError
		return
	}
	if !has {
		a.Outcome, a.Reason = domain.OutcomeDenied, domain.ReasonNoSecret
		return
	}

	suspend, err := i.settings.GetBool(ctx, domain.SettingSuspendOnPrompt, domain.DefaultSuspendOnPrompt)
	if err != nil {
		suspend = domain.DefaultSuspendOnPrompt
	}
	if suspend {
		if err := i.controller.Suspend(a.Process.PID); err != nil {
			i.logger.Warn("could not suspend process, prompting anyway",
				zap.Int("pid", a.Process.PID),
				zap.Error(err))
		} else {
			a.Suspended = true
		}
	}

	promptStart := i.now()
	secret, ok, err := i.prompter.PromptSecret(ctx, domain.PromptRequest{
		AppName: a.App.DisplayName,
		AppPath: a.Process.ExePath,
		Timeout: time.Duration(timeoutSec) * time.Second,
	})
	metrics.ObservePrompt(i.now().Sub(promptStart).Seconds())

	switch {
	case errors.Is(err, domain.ErrPromptTimeout):
		a.Outcome, a.Reason = domain.OutcomeTimedOut, domain.ReasonTimeout
		return
	case err != nil:
		i.logger.Warn("prompt failed, denying", zap.Error(err))
		a.Outcome, a.Reason = domain.OutcomeDenied, domain.ReasonPromptError
		return
	case !ok:
		a.Outcome, a.Reason = domain.OutcomeDenied, domain.ReasonCancelled
		return
	}

	valid, err := i.verifier.Verify(ctx, secret)
	if err != nil {
		i.logger.Warn("verifier error, denying", zap.Error(err))
		a.Outcome, a.Reason = domain.OutcomeDenied, domain.ReasonVerifierError
		return
	}
	if !valid {
		a.Outcome, a.Reason = domain.OutcomeDenied, domain.ReasonWrongSecret
		return
	}
	a.Outcome, a.Reason = domain.OutcomeGranted, domain.ReasonAccepted
}

// record appends exactly one audit entry unless log_attempts is off.
func (i *InterceptorImpl) record(ctx context.Context, a *domain.InterceptionAttempt) {
	defer func() {
		if r := recover(); r != nil {
			a.AuditErr = fmt.Errorf("audit panic: %v", r)
			i.logger.Error("panic while writing audit entry", zap.Any("panic", r))
		}
	}()

	enabled, err := i.settings.GetBool(ctx, domain.SettingLogAttempts, domain.DefaultLogAttempts)
	if err != nil {
		enabled = domain.DefaultLogAttempts
	}
	if !enabled {
		return
	}

	entry := domain.AccessLogEntry{
		AppName:  a.App.DisplayName,
		AppPath:  a.Process.ExePath,
		Granted:  a.Outcome == domain.OutcomeGranted,
		Outcome:  a.Outcome,
		Reason:   a.Reason,
		UserName: i.userName,
		At:       i.now(),
	}
	if entry.AppPath == "" {
		entry.AppPath = a.App.Key
	}
	if err := i.audit.LogAttempt(ctx, entry); err != nil {
		a.AuditErr = err
		i.logger.Warn("failed to write audit entry",
			zap.String("attempt", a.ID),
			zap.Error(err))
	}
}

// enforce resumes a granted process or terminates a denied one.
// Termination failures are reported on the attempt, never retried.
func (i *InterceptorImpl) enforce(ctx context.Context, a *domain.InterceptionAttempt) {
	pid := a.Process.PID
	defer func() {
		if r := recover(); r != nil {
			a.TerminationErr = fmt.Errorf("enforcement panic: %v", r)
			i.logger.Error("panic while enforcing", zap.Int("pid", pid), zap.Any("panic", r))
		}
	}()

	if a.Outcome == domain.OutcomeGranted {
		if a.Suspended {
			if err := i.controller.Resume(pid); err != nil {
				i.logger.Warn("failed to resume granted process", zap.Int("pid", pid), zap.Error(err))
			}
		}
		return
	}

	err := i.controller.Terminate(pid)
	// A stopped process cannot handle SIGTERM until it is continued.
	if a.Suspended {
		_ = i.controller.Resume(pid)
	}
	if err != nil {
		i.failTermination(a, err)
		return
	}

	exited, err := i.controller.WaitForExit(ctx, pid, i.grace)
	if err != nil {
		i.logger.Debug("wait for exit interrupted", zap.Int("pid", pid), zap.Error(err))
	}
	if exited {
		a.Terminated = true
		metrics.IncTermination("graceful")
		i.logger.Info("terminated denied process", zap.Int("pid", pid))
		return
	}

	if err := i.controller.ForceKill(pid); err != nil {
		i.failTermination(a, err)
		return
	}
	a.Terminated = true
	a.ForceKilled = true
	metrics.IncTermination("forced")
	i.logger.Info("force killed denied process", zap.Int("pid", pid))
}

func (i *InterceptorImpl) failTermination(a *domain.InterceptionAttempt, err error) {
	pid := a.Process.PID
	if errors.Is(err, domain.ErrProcessGone) {
		a.Terminated = true
		i.logger.Info("denied process already exited", zap.Int("pid", pid))
		return
	}
	a.TerminationErr = err
	metrics.IncTermination("failed")
	if errors.Is(err, domain.ErrPermission) {
		i.logger.Warn("cannot terminate denied process (permission denied, run as root)",
			zap.Int("pid", pid),
			zap.String("app", a.App.DisplayName))
		return
	}
	i.logger.Warn("failed to terminate denied process", zap.Int("pid", pid), zap.Error(err))
}

func currentUserName() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

// Ensure InterceptorImpl implements domain.Interceptor.
var _ domain.Interceptor = (*InterceptorImpl)(nil)
