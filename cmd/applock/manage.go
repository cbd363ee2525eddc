package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/infra"
	"github.com/eliteGoblin/focusd/app_lock/internal/usecase"
)

const minSecretLength = 4

var (
	lockName     string
	lockPackaged bool
	logsLimit    int
	logsClear    bool
	exportOutput string
)

var lockCmd = &cobra.Command{Use: "lock", Short: "Manage locked applications"}

var lockAddCmd = &cobra.Command{
	Use:   "add <path|package-name>",
	Short: "Lock an application",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockAdd,
}

var lockRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Unlock an application (requires the master password)",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runLockByID(args[0], "remove") },
}

var lockEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Re-enable a disabled lock",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runLockByID(args[0], "enable") },
}

var lockDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a lock without removing it (requires the master password)",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runLockByID(args[0], "disable") },
}

var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List locked applications",
	RunE:  runLockList,
}

var passwordCmd = &cobra.Command{Use: "password", Short: "Manage the master password"}

var passwordSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set or change the master password",
	RunE:  runPasswordSet,
}

var passwordCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a password against the master password",
	RunE:  runPasswordCheck,
}

var protectionCmd = &cobra.Command{Use: "protection", Short: "Turn protection on or off"}

var settingsCmd = &cobra.Command{Use: "settings", Short: "Show or change runtime settings"}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show one or all settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting (requires the master password)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent access attempts",
	RunE:  runLogs,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export settings and locked apps as YAML",
	RunE:  runExport,
}

var autostartCmd = &cobra.Command{Use: "autostart", Short: "Start the agent at login"}

var backupCmd = &cobra.Command{
	Use:   "backup [dir]",
	Short: "Back up the store (and its key) to a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBackup,
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify <dir>",
	Short: "Verify a backup against its manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupVerify,
}

func init() {
	lockAddCmd.Flags().StringVar(&lockName, "name", "", "Display name (default: executable name)")
	lockAddCmd.Flags().BoolVar(&lockPackaged, "packaged", false, "Match a packaged app by process name instead of path")
	lockCmd.AddCommand(lockAddCmd, lockRemoveCmd, lockEnableCmd, lockDisableCmd, lockListCmd)

	passwordCmd.AddCommand(passwordSetCmd, passwordCheckCmd)

	protectionCmd.AddCommand(
		&cobra.Command{Use: "on", Short: "Enable protection", RunE: func(*cobra.Command, []string) error { return runProtection("on") }},
		&cobra.Command{Use: "off", Short: "Disable protection (requires the master password)", RunE: func(*cobra.Command, []string) error { return runProtection("off") }},
		&cobra.Command{Use: "toggle", Short: "Flip protection", RunE: func(*cobra.Command, []string) error { return runProtection("toggle") }},
		&cobra.Command{Use: "status", Short: "Show whether protection is on", RunE: func(*cobra.Command, []string) error { return runProtection("status") }},
	)

	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)

	logsCmd.Flags().IntVar(&logsLimit, "limit", infra.DefaultLogLimit, "Number of entries to show")
	logsCmd.Flags().BoolVar(&logsClear, "clear", false, "Delete all entries (requires the master password)")

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")

	autostartCmd.AddCommand(
		&cobra.Command{Use: "enable", Short: "Install the login item", RunE: func(*cobra.Command, []string) error { return runAutostart("enable") }},
		&cobra.Command{Use: "disable", Short: "Remove the login item", RunE: func(*cobra.Command, []string) error { return runAutostart("disable") }},
		&cobra.Command{Use: "status", Short: "Show whether the login item is installed", RunE: func(*cobra.Command, []string) error { return runAutostart("status") }},
	)

	backupCmd.AddCommand(backupVerifyCmd)

	rootCmd.AddCommand(lockCmd, passwordCmd, protectionCmd, settingsCmd, logsCmd, exportCmd, autostartCmd, backupCmd)
}

func newLockService(s *infra.Store) *usecase.LockService {
	return usecase.NewLockService(s, infra.NormalizeExecutablePath, infra.DefaultDisplayName, newCLILogger())
}

func runLockAdd(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		kind := domain.AppKindExecutable
		if lockPackaged {
			kind = domain.AppKindPackaged
		}
		app, err := newLockService(s).Add(ctx, args[0], lockName, kind)
		if errors.Is(err, domain.ErrAlreadyLocked) {
			fmt.Printf("Already locked: [%d] %s\n", app.ID, app.Key)
			return nil
		}
		if err != nil {
			return err
		}
		if kind == domain.AppKindExecutable {
			if _, statErr := os.Stat(app.Key); statErr != nil {
				fmt.Printf("Warning: %s does not exist yet\n", app.Key)
			}
		}
		fmt.Printf("Locked [%d] %s (%s)\n", app.ID, app.DisplayName, app.Key)
		return nil
	})
}

func runLockByID(arg, action string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", arg)
	}
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		svc := newLockService(s)
		switch action {
		case "remove":
			if err := requireSecret(ctx, s); err != nil {
				return err
			}
			err = svc.Remove(ctx, id)
		case "disable":
			if err := requireSecret(ctx, s); err != nil {
				return err
			}
			err = svc.SetActive(ctx, id, false)
		case "enable":
			err = svc.SetActive(ctx, id, true)
		}
		if err != nil {
			return err
		}
		fmt.Printf("App %d: %sd\n", id, action)
		return nil
	})
}

func runLockList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		apps, err := newLockService(s).List(ctx)
		if err != nil {
			return err
		}
		if len(apps) == 0 {
			fmt.Println("No locked applications. Add one with 'applock lock add <path>'.")
			return nil
		}
		sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })

		fmt.Printf("%-5s %-8s %-9s %-20s %s\n", "ID", "ACTIVE", "KIND", "NAME", "PATH")
		for _, a := range apps {
			fmt.Printf("%-5d %-8t %-9s %-20s %s\n", a.ID, a.Active, a.Kind, a.DisplayName, a.Key)
		}
		return nil
	})
}

func runPasswordSet(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		if err := requireSecret(ctx, s); err != nil {
			return err
		}
		secret, err := readSecret("New master password: ")
		if err != nil {
			return err
		}
		if len(secret) < minSecretLength {
			return fmt.Errorf("password must be at least %d characters", minSecretLength)
		}
		confirm, err := readSecret("Confirm master password: ")
		if err != nil {
			return err
		}
		if secret != confirm {
			return fmt.Errorf("passwords do not match")
		}
		if err := s.SetMasterSecret(ctx, secret); err != nil {
			return err
		}
		fmt.Println("Master password updated")
		return nil
	})
}

func runPasswordCheck(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		has, err := s.HasSecret(ctx)
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("no master password set")
		}
		if err := requireSecret(ctx, s); err != nil {
			return err
		}
		fmt.Println("Password correct")
		return nil
	})
}

func runProtection(action string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		enabled, err := s.GetBool(ctx, domain.SettingProtectionEnabled, domain.DefaultProtectionEnabled)
		if err != nil {
			return err
		}

		switch action {
		case "status":
		case "on":
			err = usecase.SetProtection(ctx, s, true)
			enabled = true
		case "off", "toggle":
			// Turning protection off always needs the password.
			if enabled {
				if err := requireSecret(ctx, s); err != nil {
					return err
				}
			}
			if action == "off" {
				err = usecase.SetProtection(ctx, s, false)
				enabled = false
			} else {
				enabled, err = usecase.ToggleProtection(ctx, s)
			}
		}
		if err != nil {
			return err
		}
		fmt.Printf("Protection: %s\n", onOff(enabled))
		return nil
	})
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		all, err := s.AllSettings(ctx)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			v, ok := all[args[0]]
			if !ok {
				return fmt.Errorf("unknown setting %q", args[0])
			}
			fmt.Println(v)
			return nil
		}
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%-20s %s\n", k, all[k])
		}
		return nil
	})
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if err := domain.ValidateSetting(key, value); err != nil {
		return err
	}
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		if err := requireSecret(ctx, s); err != nil {
			return err
		}
		if err := s.SetSetting(ctx, key, value); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", key, value)
		return nil
	})
}

func runLogs(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		if logsClear {
			if err := requireSecret(ctx, s); err != nil {
				return err
			}
			if err := s.ClearAttempts(ctx); err != nil {
				return err
			}
			fmt.Println("Access log cleared")
			return nil
		}

		entries, err := s.RecentAttempts(ctx, logsLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No access attempts recorded.")
			return nil
		}
		fmt.Printf("%-20s %-10s %-20s %-22s %s\n", "TIME", "OUTCOME", "APP", "REASON", "USER")
		for _, en := range entries {
			fmt.Printf("%-20s %-10s %-20s %-22s %s\n",
				en.At.Local().Format("2006-01-02 15:04:05"), en.Outcome, en.AppName, en.Reason, en.UserName)
		}
		return nil
	})
}

// exportDocument is the YAML shape of 'applock export'. The master password
// hash is never exported.
type exportDocument struct {
	ExportedAt time.Time         `yaml:"exported_at"`
	Version    string            `yaml:"version"`
	Settings   map[string]string `yaml:"settings"`
	LockedApps []exportedApp     `yaml:"locked_apps"`
}

type exportedApp struct {
	ID        int64     `yaml:"id"`
	Name      string    `yaml:"name"`
	Key       string    `yaml:"key"`
	Kind      string    `yaml:"kind"`
	Active    bool      `yaml:"active"`
	CreatedAt time.Time `yaml:"created_at"`
}

func buildExport(ctx context.Context, settings domain.SettingsStore, apps domain.AppStore, now time.Time) (*exportDocument, error) {
	all, err := settings.AllSettings(ctx)
	if err != nil {
		return nil, err
	}
	list, err := apps.ListApps(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	doc := &exportDocument{ExportedAt: now.UTC(), Version: Version, Settings: all, LockedApps: []exportedApp{}}
	for _, a := range list {
		doc.LockedApps = append(doc.LockedApps, exportedApp{
			ID:        a.ID,
			Name:      a.DisplayName,
			Key:       a.Key,
			Kind:      string(a.Kind),
			Active:    a.Active,
			CreatedAt: a.CreatedAt.UTC(),
		})
	}
	return doc, nil
}

func writeExport(w io.Writer, doc *exportDocument) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func runExport(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		doc, err := buildExport(ctx, s, s, time.Now())
		if err != nil {
			return err
		}
		if exportOutput == "" {
			return writeExport(os.Stdout, doc)
		}
		f, err := os.OpenFile(exportOutput, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		if err := writeExport(f, doc); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("Exported %d apps to %s\n", len(doc.LockedApps), exportOutput)
		return nil
	})
}

func runAutostart(action string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	mgr, err := infra.NewAutostartManager(e.paths)
	if err != nil {
		return err
	}

	switch action {
	case "enable":
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		if err := mgr.Install(exe); err != nil {
			return fmt.Errorf("failed to install login item: %w", err)
		}
		fmt.Printf("Auto-start enabled (%s)\n", mgr.Path())
	case "disable":
		s, err := openStore(e)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := requireSecret(context.Background(), s); err != nil {
			return err
		}
		if err := mgr.Uninstall(); err != nil {
			return err
		}
		fmt.Println("Auto-start disabled")
	case "status":
		fmt.Printf("Auto-start: %s (%s)\n", onOff(mgr.IsInstalled()), mgr.Path())
	}
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, e *env, s *infra.Store) error {
		dir := filepath.Join(e.paths.DataDir, "backups", time.Now().Format("20060102-150405"))
		if len(args) == 1 {
			dir = infra.ExpandHome(args[0])
		}
		m, err := s.Backup(ctx, dir, infra.NewFileKeyProvider(e.paths.DataDir).Path())
		if err != nil {
			return err
		}
		fmt.Printf("Backup written to %s (sha256 %s)\n", dir, m.SHA256[:12])
		if m.KeyFile != "" {
			fmt.Println("The backup includes the store key: keep it private.")
		}
		return nil
	})
}

func runBackupVerify(cmd *cobra.Command, args []string) error {
	m, err := infra.VerifyBackup(infra.ExpandHome(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("Backup OK (created %s, encrypted: %t)\n", m.CreatedAt.Local().Format(time.RFC3339), m.Encrypted)
	return nil
}
