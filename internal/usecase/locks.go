package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/policy"
)

// LockService manages the locked-app registry on behalf of the CLI.
type LockService struct {
	store       domain.AppStore
	normalize   func(string) (string, error)
	displayName func(string) string
	logger      *zap.Logger
}

// NewLockService creates a LockService. normalize turns user input into the
// path the OS reports for a running process; displayName derives a default name.
func NewLockService(
	store domain.AppStore,
	normalize func(string) (string, error),
	displayName func(string) string,
	logger *zap.Logger,
) *LockService {
	return &LockService{store: store, normalize: normalize, displayName: displayName, logger: logger}
}

// Add registers an app. Executable keys are normalized first; packaged keys
// are stored as given. A key already present (active or not) is refused.
func (s *LockService) Add(ctx context.Context, key, name string, kind domain.AppKind) (domain.ProtectedApp, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ProtectedApp{}, fmt.Errorf("app path or name is required")
	}
	if kind == "" {
		kind = domain.AppKindExecutable
	}
	if !kind.Valid() {
		return domain.ProtectedApp{}, fmt.Errorf("unknown app kind: %s", kind)
	}

	if kind == domain.AppKindExecutable {
		normalized, err := s.normalize(key)
		if err != nil {
			return domain.ProtectedApp{}, fmt.Errorf("invalid path %q: %w", key, err)
		}
		key = normalized
	}
	if name == "" {
		name = s.displayName(key)
	}

	existing, err := s.store.ListApps(ctx)
	if err != nil {
		return domain.ProtectedApp{}, err
	}
	for _, app := range existing {
		if app.Kind == kind && policy.NormalizeKey(app.Key) == policy.NormalizeKey(key) {
			return app, fmt.Errorf("%s (id %d): %w", app.Key, app.ID, domain.ErrAlreadyLocked)
		}
	}

	app, err := s.store.AddApp(ctx, domain.ProtectedApp{
		Key:         key,
		DisplayName: name,
		Kind:        kind,
		Active:      true,
	})
	if err != nil {
		return domain.ProtectedApp{}, fmt.Errorf("failed to add app: %w", err)
	}
	s.logger.Info("app locked",
		zap.Int64("id", app.ID),
		zap.String("app", app.DisplayName),
		zap.String("key", app.Key),
		zap.String("kind", string(app.Kind)))
	return app, nil
}

// Remove deletes an app by ID.
func (s *LockService) Remove(ctx context.Context, id int64) error {
	if err := s.store.RemoveApp(ctx, id); err != nil {
		return err
	}
	s.logger.Info("app unlocked", zap.Int64("id", id))
	return nil
}

// SetActive enables or disables an app without removing it.
func (s *LockService) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.store.SetAppActive(ctx, id, active); err != nil {
		return err
	}
	s.logger.Info("app lock toggled", zap.Int64("id", id), zap.Bool("active", active))
	return nil
}

// List returns every registered app.
func (s *LockService) List(ctx context.Context) ([]domain.ProtectedApp, error) {
	return s.store.ListApps(ctx)
}

// SetProtection turns the global protection switch on or off.
func SetProtection(ctx context.Context, settings domain.SettingsStore, enabled bool) error {
	return settings.SetSetting(ctx, domain.SettingProtectionEnabled, fmt.Sprintf("%t", enabled))
}

// ToggleProtection flips the global protection switch and returns the new value.
func ToggleProtection(ctx context.Context, settings domain.SettingsStore) (bool, error) {
	current, err := settings.GetBool(ctx, domain.SettingProtectionEnabled, domain.DefaultProtectionEnabled)
	if err != nil {
		return false, err
	}
	if err := SetProtection(ctx, settings, !current); err != nil {
		return false, err
	}
	return !current, nil
}
