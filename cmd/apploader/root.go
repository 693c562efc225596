package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gdorsi/BangleApps/internal/config"
)

// commandContext carries the flags shared by every command
type commandContext struct {
	configFlag string
	verbose    bool
	cfg        *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if c.configFlag != "" {
		if err := os.Setenv("APPLOADER_CONFIG", c.configFlag); err != nil {
			return nil, err
		}
	}

	cfg := config.LoadWithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// commandLogger logs to stderr so command output on stdout stays clean.
// Quiet unless --verbose.
func (c *commandContext) commandLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = c.cfg.LogLevel
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "apploader",
		Short:         "Install and manage apps on a Bangle.js watch",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path (YAML or TOML)")
	rootCmd.PersistentFlags().BoolVarP(&ctx.verbose, "verbose", "v", false, "Log progress to stderr")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newCatalogCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newInstallCommand(ctx))
	rootCmd.AddCommand(newUpdateCommand(ctx))
	rootCmd.AddCommand(newRemoveCommand(ctx))
	rootCmd.AddCommand(newRemoveAllCommand(ctx))
	rootCmd.AddCommand(newResetDefaultsCommand(ctx))
	rootCmd.AddCommand(newSetTimeCommand(ctx))
	rootCmd.AddCommand(newReadFileCommand(ctx))

	return rootCmd
}
