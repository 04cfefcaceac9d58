// Package cmd implements the datelinkctl commands. Every command runs the session
// engine in-process against the configured stores, so a session signed in by one
// invocation is resumed by the next.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pilab-dev/datelink/config"
	"github.com/pilab-dev/datelink/internal/app"
	"github.com/pilab-dev/datelink/log"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// AppName is the CLI binary name.
const AppName = "datelinkctl"

var (
	cfgFile string
	verbose bool

	appConfig *config.Config
	appLogger log.Logger
)

var rootCmd = &cobra.Command{
	Use:           AppName,
	Short:         "datelinkctl drives the datelink session engine from the command line",
	Long:          `A command-line client for signing in, registering, completing a profile and watching matches.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		appConfig = cfg

		level := zerolog.WarnLevel
		if verbose {
			level = log.ParseLevel(cfg.LogLevel)
		}
		appLogger = log.NewZerologAdapter(level, true)
		appLogger.Debug(cmd.Context(), "datelinkctl starting", log.Fields{
			"storage_backend": cfg.StorageBackend,
			"session_store":   cfg.SessionStore,
		})

		return nil
	},
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./datelink.yaml or $HOME/.datelink/datelink.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured log_level instead of warn")
}

// runEngine builds the engine, restores the stored session and waits briefly for
// the provider to confirm it before calling fn. The engine is closed afterwards.
func runEngine(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()

	a, err := app.New(ctx, appConfig, appLogger)
	if err != nil {
		return fmt.Errorf("failed to start session engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Close(closeCtx)
	}()

	a.Sessions.Start(ctx)
	if a.Sessions.AttemptResumeSession(ctx) && !a.Sessions.AwaitCorroboration(ctx) {
		appLogger.Warn(ctx, "identity provider did not confirm the stored session in time")
	}

	return fn(ctx, a)
}

func printYAML(w io.Writer, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	_, err = w.Write(out)
	return err
}
