// Package policy decides which processes are protected launches.
// It holds no OS state: callers feed it registry snapshots and process records.
package policy

import (
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// DefaultRecencyWindow is the maximum process age at first sight for which
// a launch is still challenged. Older processes are session survivors.
const DefaultRecencyWindow = 5 * time.Second

// NormalizeKey folds a path or package identity for case-insensitive lookup.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Index is a point-in-time lookup over active protected apps.
// Build one per cycle; it never observes later registry changes.
type Index struct {
	executables map[string]domain.ProtectedApp
	packaged    []domain.ProtectedApp
}

// NewIndex builds a lookup from a registry snapshot. Inactive entries and
// entries with an empty key are ignored. On duplicate paths the first wins.
func NewIndex(apps []domain.ProtectedApp) *Index {
	idx := &Index{executables: make(map[string]domain.ProtectedApp, len(apps))}
	for _, app := range apps {
		if !app.Active {
			continue
		}
		key := NormalizeKey(app.Key)
		if key == "" {
			continue
		}
		switch app.Kind {
		case domain.AppKindExecutable:
			if _, dup := idx.executables[key]; !dup {
				idx.executables[key] = app
			}
		case domain.AppKindPackaged:
			idx.packaged = append(idx.packaged, app)
		}
	}
	return idx
}

// Empty reports whether nothing can match.
func (i *Index) Empty() bool {
	return len(i.executables) == 0 && len(i.packaged) == 0
}

// HasPackaged reports whether the packaged-app pass has anything to do.
func (i *Index) HasPackaged() bool {
	return len(i.packaged) > 0
}

// MatchExecutable returns the entry whose path equals exePath, ignoring case.
func (i *Index) MatchExecutable(exePath string) (domain.ProtectedApp, bool) {
	if exePath == "" {
		return domain.ProtectedApp{}, false
	}
	app, ok := i.executables[NormalizeKey(exePath)]
	return app, ok
}

// MatchPackaged returns the first packaged entry whose display name is
// contained in the process name, ignoring case. Best effort only.
func (i *Index) MatchPackaged(processName string) (domain.ProtectedApp, bool) {
	name := NormalizeKey(processName)
	if name == "" {
		return domain.ProtectedApp{}, false
	}
	for _, app := range i.packaged {
		needle := NormalizeKey(app.DisplayName)
		if needle == "" {
			continue
		}
		if strings.Contains(name, needle) {
			return app, true
		}
	}
	return domain.ProtectedApp{}, false
}

// IsRecentLaunch reports whether a process created at createdAt counts as
// a new launch at now. An unknown creation time is never recent.
// Creation times slightly in the future (clock skew) count as recent.
func IsRecentLaunch(createdAt, now time.Time, window time.Duration) bool {
	if createdAt.IsZero() {
		return false
	}
	return now.Sub(createdAt) <= window
}
