// Package main provides the coach binary: the web service, a terminal REPL and
// a few maintenance commands around the transcript store and secrets.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"writingcoach/pkg/config"
	"writingcoach/pkg/logx"
	"writingcoach/pkg/version"
)

const (
	appName = "coach"

	// envPassword unlocks the secrets file without a prompt.
	envPassword = "COACH_PASSWORD"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	secretsDir string
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Staged argumentative writing coach",
		Long: `coach guides a student through four writing stages (thesis, claims,
evidence, review) with model-generated feedback and Socratic dialogue
about each flagged issue.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML, default coach.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.secretsDir, "secrets-dir", ".", "Directory holding the encrypted secrets file")

	cmd.AddCommand(
		serveCmd(opts),
		replCmd(opts),
		transcriptCmd(opts),
		usageCmd(opts),
		secretsCmd(opts),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (commit %s, built %s)\n", appName, version.Version, version.Commit, version.Date)
		},
	}
}

// setup loads the configuration, configures logging and unlocks the secrets file
// when one exists.
func setup(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := logx.Configure(logx.Options{
		File:  cfg.Logging.File,
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	}); err != nil {
		return config.Config{}, err
	}
	config.SetConfig(cfg)

	if config.SecretsFileExists(opts.secretsDir) {
		if err := unlockSecrets(opts.secretsDir); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func unlockSecrets(dir string) error {
	password, err := readPassword(false)
	if err != nil {
		return err
	}
	secrets, err := config.DecryptSecretsFile(dir, password)
	if err != nil {
		return fmt.Errorf("failed to unlock secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// readPassword takes the password from the environment, else prompts on the
// terminal. confirm asks twice, for creating a secrets file.
func readPassword(confirm bool) (string, error) {
	if p := os.Getenv(envPassword); p != "" {
		return p, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("secrets file is locked: set %s or run from a terminal", envPassword)
	}

	fmt.Fprint(os.Stderr, "Secrets password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	if strings.TrimSpace(string(first)) == "" {
		return "", errors.New("password cannot be empty")
	}
	return string(first), nil
}
