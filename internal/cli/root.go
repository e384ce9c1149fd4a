// Package cli implements regionctl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"regions-server/internal/app"
	"regions-server/internal/shared/config"
	"regions-server/internal/shared/logger"

	"github.com/spf13/cobra"
)

var ValidFormats = []string{"text", "json"}

// Environment is how commands reach configuration and the application
type Environment struct {
	LoadConfig func() (*config.Config, error)
	OpenApp    func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, error)
}

// DefaultEnvironment reads the process environment and connects for real
func DefaultEnvironment() Environment {
	return Environment{
		LoadConfig: func() (*config.Config, error) {
			if err := config.Init(); err != nil {
				return nil, err
			}
			return config.GlobalConfig, nil
		},
		OpenApp: app.New,
	}
}

type RootOptions struct {
	Verbose bool
	Format  string
	env     Environment
}

func NewRootCommand(env Environment) *cobra.Command {
	opts := &RootOptions{env: env}

	cmd := &cobra.Command{
		Use:   "regionctl",
		Short: "Operate the regions server",
		Long:  "Inspect grid cells, run scans and maintain region resources against the configured store.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr while running")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCellCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewRefreshStaleCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := o.env.LoadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}

// logger writes to stderr when verbose so stdout stays parseable
func (o *RootOptions) logger(cfg *config.Config) *slog.Logger {
	if !o.Verbose {
		return logger.Discard()
	}
	return logger.New(os.Stderr, cfg.Logging)
}

// withApp loads configuration, opens the application and runs fn against it
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := o.env.OpenApp(ctx, cfg, o.logger(cfg))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer a.Close()

	return fn(ctx, a)
}
