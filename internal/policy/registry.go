package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// Registry is an in-memory locked-app list.
// Used when the agent is embedded without a database, and in tests.
// Safe for concurrent use; every read returns a copy.
type Registry struct {
	mu     sync.RWMutex
	apps   map[int64]domain.ProtectedApp
	nextID int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{apps: make(map[int64]domain.ProtectedApp)}
}

// NewRegistryWithApps creates a registry preloaded with apps (for testing).
func NewRegistryWithApps(apps ...domain.ProtectedApp) *Registry {
	r := NewRegistry()
	for _, app := range apps {
		_, _ = r.AddApp(context.Background(), app)
	}
	return r
}

// AddApp stores an entry and assigns it an ID.
func (r *Registry) AddApp(_ context.Context, app domain.ProtectedApp) (domain.ProtectedApp, error) {
	if NormalizeKey(app.Key) == "" {
		return domain.ProtectedApp{}, fmt.Errorf("app key is required")
	}
	if app.Kind == "" {
		app.Kind = domain.AppKindExecutable
	}
	if !app.Kind.Valid() {
		return domain.ProtectedApp{}, fmt.Errorf("unknown app kind: %s", app.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	app.ID = r.nextID
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now()
	}
	r.apps[app.ID] = app
	return app, nil
}

// RemoveApp deletes an entry by ID.
func (r *Registry) RemoveApp(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.apps[id]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrAppNotFound, id)
	}
	delete(r.apps, id)
	return nil
}

// SetAppActive flips the active flag of an entry.
func (r *Registry) SetAppActive(_ context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.apps[id]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrAppNotFound, id)
	}
	app.Active = active
	r.apps[id] = app
	return nil
}

// ActiveApps returns a snapshot of active entries ordered by name.
func (r *Registry) ActiveApps(_ context.Context) ([]domain.ProtectedApp, error) {
	return r.collect(true), nil
}

// ListApps returns a snapshot of all entries ordered by name.
func (r *Registry) ListApps(_ context.Context) ([]domain.ProtectedApp, error) {
	return r.collect(false), nil
}

// IsLocked reports whether an active executable entry has this path.
func (r *Registry) IsLocked(_ context.Context, path string) (bool, error) {
	_, ok := NewIndex(r.collect(true)).MatchExecutable(path)
	return ok, nil
}

func (r *Registry) collect(activeOnly bool) []domain.ProtectedApp {
	r.mu.RLock()
	result := make([]domain.ProtectedApp, 0, len(r.apps))
	for _, app := range r.apps {
		if activeOnly && !app.Active {
			continue
		}
		result = append(result, app)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayName != result[j].DisplayName {
			return result[i].DisplayName < result[j].DisplayName
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Ensure Registry implements domain.AppStore.
var _ domain.AppStore = (*Registry)(nil)
