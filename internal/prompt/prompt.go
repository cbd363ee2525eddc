// Package prompt implements the blocking password challenge shown when a
// locked application is launched.
package prompt

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/config"
	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// New returns the prompter for a configured backend (auto, dialog or tty).
func New(backend string, logger *zap.Logger) (domain.Prompter, error) {
	switch backend {
	case config.PromptDialog:
		return NewDialog(), nil
	case config.PromptTTY:
		return NewTTY(), nil
	case config.PromptAuto, "":
		return &Auto{primary: NewDialog(), fallback: NewTTY(), logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown prompt backend %q", backend)
	}
}

// Auto prefers the native dialog and falls back to the terminal when no
// dialog tool or display is available.
type Auto struct {
	primary  domain.Prompter
	fallback domain.Prompter
	logger   *zap.Logger
}

// PromptSecret implements domain.Prompter.
func (a *Auto) PromptSecret(ctx context.Context, req domain.PromptRequest) (string, bool, error) {
	secret, ok, err := a.primary.PromptSecret(ctx, req)
	if !errors.Is(err, domain.ErrNoPromptBackend) {
		return secret, ok, err
	}
	a.logger.Debug("no dialog backend, using terminal", zap.String("app", req.AppName))
	return a.fallback.PromptSecret(ctx, req)
}

var _ domain.Prompter = (*Auto)(nil)
