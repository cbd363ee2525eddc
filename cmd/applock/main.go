// Package main is the CLI entry point for applock.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/eliteGoblin/focusd/app_lock/internal/config"
	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var (
	configPath  string
	dataDirFlag string
	verbose     bool
	jsonOutput  bool
)

var errWrongPassword = errors.New("incorrect master password")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "applock",
	Short: "Password-protect selected applications",
	Long: `applock watches for launches of locked applications and asks for the
master password before they can be used. A wrong password, a cancelled
prompt or no answer in time closes the application.

Run 'applock password set' first, then 'applock lock add <path>' and
'applock start'.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run:   runVersion,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <data-dir>/applock.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory override")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose CLI logging")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
}

// env is the resolved configuration shared by every subcommand.
type env struct {
	cfg   *config.Config
	paths *infra.ExecModeConfig
}

func loadEnv() (*env, error) {
	paths := infra.DetectExecMode()
	if dataDirFlag != "" {
		paths = paths.WithDataDir(dataDirFlag)
	}

	path, required := configPath, true
	if path == "" {
		path, required = paths.ConfigPath(), false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}
	// The flag wins over the config file.
	if dataDirFlag == "" {
		paths = paths.WithDataDir(cfg.DataDir)
	}
	return &env{cfg: cfg, paths: paths}, nil
}

// passthroughArgs are the global flags a spawned agent must inherit.
func passthroughArgs() []string {
	var args []string
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if dataDirFlag != "" {
		args = append(args, "--data-dir", dataDirFlag)
	}
	return args
}

func openStore(e *env) (*infra.Store, error) {
	opts := infra.StoreOptions{DataDir: e.paths.DataDir}
	if e.cfg.Store.Encrypted {
		key, err := infra.EnsureKey(infra.NewFileKeyProvider(e.paths.DataDir))
		if err != nil {
			return nil, fmt.Errorf("failed to load store key: %w", err)
		}
		opts.Key = key
	}
	return infra.OpenStore(opts)
}

// withStore runs fn against an open store.
func withStore(fn func(ctx context.Context, e *env, s *infra.Store) error) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	s, err := openStore(e)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(context.Background(), e, s)
}

func newCLILogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

var stdin = bufio.NewReader(os.Stdin)

// readSecret reads a password without echo from a terminal, or one line
// from piped stdin.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	return readLine(stdin)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// requireSecret asks for the master password when one is configured.
func requireSecret(ctx context.Context, v domain.CredentialVerifier) error {
	has, err := v.HasSecret(ctx)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	secret, err := readSecret("Master password: ")
	if err != nil {
		return err
	}
	ok, err := v.Verify(ctx, secret)
	if err != nil {
		return err
	}
	if !ok {
		return errWrongPassword
	}
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("applock %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
