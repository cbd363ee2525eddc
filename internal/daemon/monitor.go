// Package daemon implements the launch interception loop and its process bootstrap.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/metrics"
	"github.com/eliteGoblin/focusd/app_lock/internal/policy"
)

// MonitorConfig holds interception loop configuration.
type MonitorConfig struct {
	PollInterval         time.Duration // Sleep between cycles (default 500ms)
	DisabledPollInterval time.Duration // Sleep while protection is off (default 2s)
	RecencyWindow        time.Duration // Max process age at first sight to challenge (default 5s)
	HeartbeatInterval    time.Duration // How often to update the state file heartbeat
	Mode                 string        // "user" or "system", recorded in the state file
	AppVersion           string
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:         500 * time.Millisecond,
		DisabledPollInterval: 2 * time.Second,
		RecencyWindow:        policy.DefaultRecencyWindow,
		HeartbeatInterval:    30 * time.Second,
	}
}

// Monitor is the interception loop.
// It polls the process table, diffs it against the previous poll and
// dispatches a challenge for every new, recently launched protected process.
type Monitor struct {
	config      MonitorConfig
	source      domain.ProcessSource
	registry    domain.AppRegistry
	settings    domain.SettingsStore
	interceptor domain.Interceptor
	state       domain.AgentStateStore // optional
	logger      *zap.Logger
	now         func() time.Time

	// seen is owned by whichever goroutine runs cycles.
	seen map[int]struct{}

	running       atomic.Bool
	stopRequested atomic.Bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates a new interception loop. state may be nil.
func NewMonitor(
	config MonitorConfig,
	source domain.ProcessSource,
	registry domain.AppRegistry,
	settings domain.SettingsStore,
	interceptor domain.Interceptor,
	state domain.AgentStateStore,
	logger *zap.Logger,
) *Monitor {
	def := DefaultMonitorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.DisabledPollInterval <= 0 {
		config.DisabledPollInterval = def.DisabledPollInterval
	}
	if config.RecencyWindow <= 0 {
		config.RecencyWindow = def.RecencyWindow
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	return &Monitor{
		config:      config,
		source:      source,
		registry:    registry,
		settings:    settings,
		interceptor: interceptor,
		state:       state,
		logger:      logger,
		now:         time.Now,
		seen:        make(map[int]struct{}),
	}
}

// Start seeds the seen set with every process already running and launches
// the loop in a background goroutine.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return domain.ErrAlreadyRunning
	}
	m.stopRequested.Store(false)

	if err := m.Seed(ctx); err != nil {
		m.logger.Warn("initial snapshot failed, starting with empty seen set", zap.Error(err))
	}

	if m.state != nil {
		now := m.now().Unix()
		err := m.state.Register(domain.AgentState{
			Version:       1,
			PID:           os.Getpid(),
			StartedAt:     now,
			LastHeartbeat: now,
			Mode:          m.config.Mode,
			AppVersion:    m.config.AppVersion,
		})
		if err != nil {
			m.logger.Warn("failed to register agent state", zap.Error(err))
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.mu.Lock()
	m.stop, m.done = stop, done
	m.mu.Unlock()

	m.logger.Info("interception loop started",
		zap.Int("pid", os.Getpid()),
		zap.Int("seeded", len(m.seen)),
		zap.Duration("poll_interval", m.config.PollInterval),
		zap.Duration("recency_window", m.config.RecencyWindow))

	go m.loop(ctx, stop, done)
	return nil
}

// Stop asks the loop to exit. An in-flight prompt is allowed to resolve.
func (m *Monitor) Stop() {
	m.stopRequested.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Wait blocks until the loop has exited.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the loop goroutine is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Run starts the loop and blocks until ctx is canceled or Stop is called.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	m.Wait()
	return nil
}

// Seed replaces the seen set with the current process table.
func (m *Monitor) Seed(ctx context.Context) error {
	procs, err := m.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	m.seen = pidSet(procs)
	return nil
}

// NotifyAppAdded is advisory. The registry is re-read every cycle.
func (m *Monitor) NotifyAppAdded(app domain.ProtectedApp) {
	m.logger.Info("protected app added", zap.String("app", app.DisplayName), zap.String("key", app.Key))
}

// NotifyAppRemoved is advisory. The registry is re-read every cycle.
func (m *Monitor) NotifyAppRemoved(key string) {
	m.logger.Info("protected app removed", zap.String("key", key))
}

func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		if m.state != nil {
			if err := m.state.Clear(); err != nil {
				m.logger.Warn("failed to clear agent state", zap.Error(err))
			}
		}
		m.running.Store(false)
		close(done)
		m.logger.Info("interception loop stopped")
	}()

	lastHeartbeat := m.now()
	for {
		if m.stopRequested.Load() || ctx.Err() != nil {
			return
		}

		result := m.RunCycle(ctx)

		interval := m.config.PollInterval
		if result.ProtectionDisabled {
			interval = m.config.DisabledPollInterval
		}

		if m.state != nil && m.now().Sub(lastHeartbeat) >= m.config.HeartbeatInterval {
			if err := m.state.UpdateHeartbeat(); err != nil {
				m.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
			lastHeartbeat = m.now()
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCycle executes one poll cycle. It is called by the loop goroutine and
// must not be called concurrently with a started Monitor.
func (m *Monitor) RunCycle(ctx context.Context) (result domain.CycleResult) {
	start := m.now()
	result.ExecutedAt = start
	status := "ok"

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			result.Errors = append(result.Errors, fmt.Errorf("cycle panic: %v", r))
			m.logger.Error("recovered panic in poll cycle", zap.Any("panic", r))
		}
		result.DurationMs = m.now().Sub(start).Milliseconds()
		metrics.IncCycle(status)
		metrics.ObserveCycle(m.now().Sub(start).Seconds(), result.Observed)
	}()

	procs, err := m.source.Snapshot(ctx)
	if err != nil {
		status = "snapshot_error"
		result.Errors = append(result.Errors, fmt.Errorf("snapshot: %w", err))
		m.logger.Warn("process snapshot failed, skipping cycle", zap.Error(err))
		return result
	}
	result.Observed = len(procs)
	current := pidSet(procs)

	enabled, err := m.settings.GetBool(ctx, domain.SettingProtectionEnabled, domain.DefaultProtectionEnabled)
	if err != nil {
		m.logger.Warn("failed to read protection setting, assuming enabled", zap.Error(err))
		enabled = true
	}
	if !enabled {
		status = "disabled"
		result.ProtectionDisabled = true
		m.seen = current
		return result
	}

	fresh := make([]domain.ProcessRecord, 0)
	for _, p := range procs {
		if _, ok := m.seen[p.PID]; !ok {
			fresh = append(fresh, p)
		}
	}
	result.NewProcesses = len(fresh)

	apps, err := m.registry.ActiveApps(ctx)
	if err != nil {
		// Exited pids are dropped; new ones stay unseen and are evaluated next cycle.
		for _, p := range fresh {
			delete(current, p.PID)
		}
		m.seen = current
		status = "registry_error"
		result.Errors = append(result.Errors, fmt.Errorf("registry: %w", err))
		m.logger.Warn("failed to read protected apps, skipping cycle", zap.Error(err))
		return result
	}
	idx := policy.NewIndex(apps)
	m.seen = current

	if idx.Empty() {
		return result
	}

	now := m.now()
	for _, p := range fresh {
		if app, ok := idx.MatchExecutable(p.ExePath); ok {
			if !policy.IsRecentLaunch(p.CreatedAt, now, m.config.RecencyWindow) {
				result.Survivors = append(result.Survivors, p.PID)
				m.logger.Debug("ignoring protected process outside recency window",
					zap.Int("pid", p.PID),
					zap.String("app", app.DisplayName),
					zap.Time("created_at", p.CreatedAt))
				continue
			}

			attempt, err := m.dispatch(ctx, p, app)
			if err != nil {
				result.Errors = append(result.Errors, err)
				m.logger.Error("dispatch failed", zap.Int("pid", p.PID), zap.Error(err))
				continue
			}
			result.Attempts = append(result.Attempts, attempt)
			continue
		}

		if idx.HasPackaged() {
			if app, ok := idx.MatchPackaged(p.Name); ok {
				result.Detections = append(result.Detections, domain.PackagedDetection{
					App:         app,
					PID:         p.PID,
					ProcessName: p.Name,
				})
				metrics.IncDetection(app.DisplayName)
				m.logger.Info("packaged app detected",
					zap.Int("pid", p.PID),
					zap.String("app", app.DisplayName),
					zap.String("process", p.Name))
			}
		}
	}

	metrics.AddSurvivors(len(result.Survivors))
	return result
}

// dispatch runs one interception. Stopping the agent never cancels it.
func (m *Monitor) dispatch(ctx context.Context, p domain.ProcessRecord, app domain.ProtectedApp) (attempt domain.InterceptionAttempt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic for pid %d: %v", p.PID, r)
		}
	}()
	return m.interceptor.Intercept(context.WithoutCancel(ctx), p, app), nil
}

// Seen returns a copy of the pids observed by the last completed cycle.
func (m *Monitor) Seen() map[int]struct{} {
	out := make(map[int]struct{}, len(m.seen))
	for pid := range m.seen {
		out[pid] = struct{}{}
	}
	return out
}

func pidSet(procs []domain.ProcessRecord) map[int]struct{} {
	set := make(map[int]struct{}, len(procs))
	for _, p := range procs {
		set[p.PID] = struct{}{}
	}
	return set
}
