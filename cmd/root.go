// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// ExitError carries a process exit code out of a command without being
// reported as a failure of the command itself.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

// NewRootCommand builds a fresh command tree. Running it without a
// subcommand is the same as running auto.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "mealfix",
		Short: "mealfix runs the test suite, fixes failing tests and redeploys.",
		Long: `mealfix runs the FitnessMealPlanner test suite, asks an LLM to classify
and fix each failing test, verifies every fix by re-running the suite and
deploys the fixes the policy allows. Everything else is left for review.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "mealfix"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if err := bindFlags(cmd, v); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "mealfix"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting mealfix", zap.String("version", Version), zap.String("command", cmd.Name()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutoCommand(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./mealfix.yaml)")
	rootCmd.PersistentFlags().String("project-root", "", "root of the project under repair (overrides autofix.project_root)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	addAutoFlags(rootCmd)

	rootCmd.AddCommand(
		newAutoCmd(),
		newDetectCmd(),
		newVerifyCmd(),
		newQAReportCmd(),
		newAggregateCmd(),
		newWatchCmd(),
		newHistoryCmd(),
		newPruneCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with the signal-aware context from main.
func Execute(ctx context.Context, args []string) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	defer observability.Sync()

	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted.")
		} else {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
			rootCmd.PrintErrln("Error:", err)
		}
	}
	return err
}

// initializeConfig reads the config file and environment into v. A missing
// default config file is not an error.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("mealfix")
		v.SetConfigType("yaml")
	}
	config.BindEnvironment(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// flagBindings maps command flags onto config keys. Only flags that were
// set override the file and the environment.
var flagBindings = map[string]string{
	"project-root": "autofix.project_root",
	"dry-run":      "autofix.dry_run",
	"max-fixes":    "autofix.max_fixes_per_run",
	"schedule":     "autofix.schedule",
	"server-log":   "autofix.server_log",
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range flagBindings {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}

// configFrom returns the config stored by PersistentPreRunE.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
