package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/eliteGoblin/focusd/app_lock/internal/daemon"
	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/infra"
	"github.com/eliteGoblin/focusd/app_lock/internal/logging"
	"github.com/eliteGoblin/focusd/app_lock/internal/metrics"
	"github.com/eliteGoblin/focusd/app_lock/internal/prompt"
	"github.com/eliteGoblin/focusd/app_lock/internal/usecase"
)

var (
	metricsListen string
	scanWindow    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long: `Runs the interception loop in this process until interrupted.
Processes already running when the agent starts are never challenged.`,
	RunE: runAgent,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background agent (requires the master password)",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent and protection status",
	RunE:  runStatus,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one interception cycle now, prompting on this terminal",
	Long: `Runs a single cycle immediately. Every locked process launched within
--window is challenged on this terminal; older ones are listed as survivors.`,
	RunE: runScan,
}

func init() {
	runCmd.Flags().StringVar(&metricsListen, "metrics", "", "Serve Prometheus metrics on this address (overrides metrics.listen)")
	scanCmd.Flags().DurationVar(&scanWindow, "window", 0, "Recency window for this scan (default: recency_window)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scanCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	var console io.Writer
	if term.IsTerminal(int(os.Stderr.Fd())) {
		console = os.Stderr
	}
	logger, closer, err := logging.New(logging.Options{
		Path:       e.paths.LogPath(),
		Level:      e.cfg.Log.Level,
		MaxSizeMB:  e.cfg.Log.MaxSizeMB,
		MaxBackups: e.cfg.Log.MaxBackups,
		MaxAgeDays: e.cfg.Log.MaxAgeDays,
		Compress:   e.cfg.Log.Compress,
		Console:    console,
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	defer func() { _ = logger.Sync() }()

	store, err := openStore(e)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return err
	}
	defer store.Close()

	pm := infra.NewProcessManager()
	state := infra.NewFileStateStore(e.paths.StatePath())

	status, err := daemon.QueryStatus(state, pm, 0)
	if err != nil {
		logger.Warn("failed to read agent state", zap.Error(err))
	}
	if status.Running && status.State.PID != os.Getpid() {
		return fmt.Errorf("agent already running (pid %d)", status.State.PID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if has, err := store.HasSecret(ctx); err == nil && !has {
		logger.Warn("no master password set, every locked launch will be denied")
	}

	prompter, err := prompt.New(e.cfg.Prompt.Backend, logger)
	if err != nil {
		return err
	}
	interceptor := usecase.NewInterceptor(pm, prompter, store, store, store, logger,
		usecase.InterceptorConfig{GracePeriod: e.cfg.GracePeriod})

	monitor := daemon.NewMonitor(daemon.MonitorConfig{
		PollInterval:         e.cfg.PollInterval,
		DisabledPollInterval: e.cfg.DisabledPollInterval,
		RecencyWindow:        e.cfg.RecencyWindow,
		HeartbeatInterval:    e.cfg.HeartbeatInterval,
		Mode:                 string(e.paths.Mode),
		AppVersion:           Version,
	}, pm, store, store, interceptor, state, logger)

	listen := e.cfg.Metrics.Listen
	if metricsListen != "" {
		listen = metricsListen
	}
	if listen != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		srv, err := metrics.Listen(listen, monitor.Running, logger)
		if err != nil {
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
		defer func() { _ = srv.Shutdown() }()
	}

	logger.Info("agent starting",
		zap.String("version", Version),
		zap.String("mode", string(e.paths.Mode)),
		zap.String("data_dir", e.paths.DataDir),
		zap.Bool("encrypted", store.Encrypted()))

	if err := monitor.Run(ctx); err != nil {
		return err
	}
	logger.Info("agent stopped")
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	pm := infra.NewProcessManager()
	state := infra.NewFileStateStore(e.paths.StatePath())

	status, err := daemon.QueryStatus(state, pm, 0)
	if err != nil {
		return err
	}
	if status.Running {
		fmt.Printf("Agent already running (pid %d)\n", status.State.PID)
		return nil
	}

	pid, err := daemon.StartAgent("", passthroughArgs()...)
	if err != nil {
		return err
	}
	fmt.Printf("Agent started (pid %d)\n", pid)
	fmt.Printf("Log: %s\n", e.paths.LogPath())
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		if err := requireSecret(ctx, s); err != nil {
			return err
		}
		timeoutSec, err := s.GetInt(ctx, domain.SettingAutoCloseTimeout, domain.DefaultAutoCloseTimeout)
		if err != nil || timeoutSec <= 0 {
			timeoutSec = domain.DefaultAutoCloseTimeout
		}
		wait := daemon.StopTimeout(time.Duration(timeoutSec)*time.Second, e.cfg.GracePeriod)

		pm := infra.NewProcessManager()
		state := infra.NewFileStateStore(e.paths.StatePath())
		fmt.Printf("Stopping agent (waiting up to %s for a pending prompt)...\n", wait)
		if err := daemon.StopAgent(ctx, state, pm, wait); err != nil {
			return err
		}
		fmt.Println("Agent stopped")
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		pm := infra.NewProcessManager()
		state := infra.NewFileStateStore(e.paths.StatePath())

		fmt.Println("\n=== applock Status ===")

		status, err := daemon.QueryStatus(state, pm, 3*e.cfg.HeartbeatInterval)
		switch {
		case err != nil:
			fmt.Printf("Agent: UNKNOWN (%v)\n", err)
		case status.Running && !status.Stale:
			fmt.Printf("Agent: RUNNING (pid %d, %s mode)\n", status.State.PID, status.State.Mode)
		case status.Running:
			fmt.Printf("Agent: UNRESPONSIVE (pid %d)\n", status.State.PID)
		default:
			fmt.Println("Agent: NOT RUNNING")
			fmt.Println("       Run 'applock start' to enable protection.")
		}
		if status.State != nil && status.State.LastHeartbeat > 0 {
			lastBeat := time.Unix(status.State.LastHeartbeat, 0)
			fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
		}

		enabled, err := s.GetBool(ctx, domain.SettingProtectionEnabled, domain.DefaultProtectionEnabled)
		if err != nil {
			return err
		}
		fmt.Printf("Protection: %s\n", onOff(enabled))

		has, err := s.HasSecret(ctx)
		if err != nil {
			return err
		}
		if !has {
			fmt.Println("Master password: NOT SET (locked apps are always closed)")
		}

		apps, err := s.ListApps(ctx)
		if err != nil {
			return err
		}
		active := 0
		for _, a := range apps {
			if a.Active {
				active++
			}
		}
		fmt.Printf("Locked apps: %d active, %d total\n", active, len(apps))

		if mgr, err := infra.NewAutostartManager(e.paths); err == nil {
			fmt.Printf("Auto-start: %s\n", onOff(mgr.IsInstalled()))
		}
		fmt.Printf("\nData dir: %s\n", e.paths.DataDir)
		fmt.Printf("Store: %s (encrypted: %t)\n", s.Path(), s.Encrypted())
		fmt.Printf("Log: %s\n", e.paths.LogPath())
		fmt.Println("======================")
		return nil
	})
}

func runScan(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		logger := newCLILogger()
		defer func() { _ = logger.Sync() }()

		window := e.cfg.RecencyWindow
		if scanWindow > 0 {
			window = scanWindow
		}

		pm := infra.NewProcessManager()
		interceptor := usecase.NewInterceptor(pm, prompt.NewTTY(), s, s, s, logger,
			usecase.InterceptorConfig{GracePeriod: e.cfg.GracePeriod})
		monitor := daemon.NewMonitor(daemon.MonitorConfig{RecencyWindow: window}, pm, s, s, interceptor, nil, logger)

		fmt.Println("\n=== Running Interception Scan ===")
		result := monitor.RunCycle(ctx)

		if result.ProtectionDisabled {
			fmt.Println("Protection is OFF, nothing was checked.")
		}
		fmt.Printf("Processes observed: %d\n", result.Observed)
		for _, a := range result.Attempts {
			line := fmt.Sprintf("  [%s] %s (pid %d): %s", a.Outcome, a.App.DisplayName, a.Process.PID, a.Reason)
			if a.ForceKilled {
				line += ", force-killed"
			}
			if a.TerminationErr != nil {
				line += fmt.Sprintf(", could not close: %v", a.TerminationErr)
			}
			fmt.Println(line)
		}
		if len(result.Survivors) > 0 {
			fmt.Printf("Locked apps already running before the window: %v\n", result.Survivors)
		}
		for _, d := range result.Detections {
			fmt.Printf("  packaged app %s running as %s (pid %d)\n", d.App.DisplayName, d.ProcessName, d.PID)
		}
		for _, err := range result.Errors {
			fmt.Printf("  error: %v\n", err)
		}
		if len(result.Attempts) == 0 {
			fmt.Println("No recently launched locked apps.")
		}
		fmt.Println("=================================")
		return nil
	})
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
